package api

type (
	// ErrorResponse is the body of every failed monitoring request
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// HealthResponse reports the liveness of a cascade process
	HealthResponse struct {
		Status     string `json:"status"`
		Service    string `json:"service"`
		Version    string `json:"version,omitempty"`
		Executions int    `json:"activeExecutions"`
	}

	// FlowSummary describes a registered flow
	FlowSummary struct {
		ID        string   `json:"id"`
		Namespace string   `json:"namespace"`
		Revision  int      `json:"revision"`
		Tasks     []string `json:"tasks"`
		Triggers  []string `json:"triggers,omitempty"`
		Listeners int      `json:"listeners,omitempty"`
		Disabled  bool     `json:"disabled,omitempty"`
	}

	// FlowsListResponse lists every registered flow
	FlowsListResponse struct {
		Flows []*FlowSummary `json:"flows"`
		Count int            `json:"count"`
	}

	// ExecutionsListResponse lists execution snapshots
	ExecutionsListResponse struct {
		Executions []*Execution `json:"executions"`
		Count      int          `json:"count"`
	}

	// ExecutionHistoryResponse lists every recorded snapshot of an
	// execution, oldest first
	ExecutionHistoryResponse struct {
		ExecutionID string       `json:"executionId"`
		Versions    []*Execution `json:"versions"`
		Count       int          `json:"count"`
	}

	// LogsResponse lists the log entries of an execution
	LogsResponse struct {
		ExecutionID string      `json:"executionId"`
		Logs        []*LogEntry `json:"logs"`
	}

	// KillResponse acknowledges a kill request
	KillResponse struct {
		ExecutionID string `json:"executionId"`
		Message     string `json:"message"`
	}
)

const HealthStatusHealthy = "healthy"

// SummarizeFlow builds the FlowSummary of a flow
func SummarizeFlow(f *Flow) *FlowSummary {
	res := &FlowSummary{
		ID:        f.ID,
		Namespace: f.Namespace,
		Revision:  f.Revision,
		Tasks:     make([]string, 0, len(f.Tasks)),
		Listeners: len(f.Listeners),
		Disabled:  f.Disabled,
	}
	for _, t := range f.Tasks {
		res.Tasks = append(res.Tasks, t.TaskID())
	}
	for _, tr := range f.Triggers {
		res.Triggers = append(res.Triggers, tr.ID)
	}
	return res
}
