package queue

import "github.com/kode4food/cascade/pkg/api"

// Queues is the set of topics one engine instance runs over
type Queues struct {
	Executions  *Queue[*api.Execution]
	WorkerTasks *Queue[*api.WorkerTask]
	Results     *Queue[*api.WorkerTaskResult]
	Logs        *Queue[*api.LogEntry]
	Kills       *Queue[*api.ExecutionKilled]
}

const (
	NameExecutions  = "executions"
	NameWorkerTasks = "worker_tasks"
	NameResults     = "worker_task_results"
	NameLogs        = "logs"
	NameKills       = "kills"
)

// NewQueues creates every engine topic
func NewQueues() *Queues {
	return &Queues{
		Executions:  New[*api.Execution](NameExecutions),
		WorkerTasks: New[*api.WorkerTask](NameWorkerTasks),
		Results:     New[*api.WorkerTaskResult](NameResults),
		Logs:        New[*api.LogEntry](NameLogs),
		Kills:       New[*api.ExecutionKilled](NameKills),
	}
}

// Close stops every topic from accepting messages
func (q *Queues) Close() {
	q.Executions.Close()
	q.WorkerTasks.Close()
	q.Results.Close()
	q.Logs.Close()
	q.Kills.Close()
}
