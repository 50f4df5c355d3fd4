// Package server implements the monitoring HTTP server of a cascade process
//
// This package provides read-only REST endpoints over flows, executions and
// their logs, a kill endpoint, and a WebSocket stream of execution snapshots
package server
