// Package api defines the core data types and interfaces for the execution
// engine
//
// This package contains the shared types used across the executor, the
// worker, and the trigger services, including execution and task run state,
// flow definitions, queue messages, and the capabilities a task can expose
package api
