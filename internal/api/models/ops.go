package models

// Health represents the liveness of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Readiness reports each dependency the daemon needs to take calls.
type Readiness struct {
	Status   HealthStatus    `json:"status"`
	Time     Timestamp       `json:"time"`
	Checks   []CheckStatus   `json:"checks"`
	Commands []CommandStatus `json:"commands,omitempty"`
}

// CheckStatus is the result of one readiness check.
type CheckStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// CommandStatus is the circuit state of one outbound command executor.
type CommandStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}
