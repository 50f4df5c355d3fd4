// Package storage persists the windows of multiple conditions, keyed by
// namespace, flow id and condition id
package storage
