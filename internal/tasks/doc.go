// Package tasks provides the task types a flow definition is built from:
// the control-flow containers resolved by the executor and the runnable
// tasks executed by the worker. Every type registers itself under its YAML
// type discriminator
package tasks
