// Package cascade resolves the state of flow executions: which task runs
// come next, when flowable containers and executions are finished, and which
// downstream executions flow triggers create
package cascade

const (
	// Name is the service name reported in logs and health checks
	Name = "cascade"

	// Version is the release of this build
	Version = "0.1.0"
)
