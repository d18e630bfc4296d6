package domain

import "time"

// ExecutorProfile is the narrative configuration of an executor: role, goal
// and limits. It is plain data handed to executor construction; behavior
// lives entirely in the ports.Executor implementation.
type ExecutorProfile struct {
	Name             string        `json:"name"`
	Role             string        `json:"role"`
	Goal             string        `json:"goal"`
	Backstory        string        `json:"backstory,omitempty"`
	Tools            []string      `json:"tools,omitempty"`
	AllowDelegation  bool          `json:"allow_delegation"`
	MaxIterations    int           `json:"max_iterations"`
	MaxExecutionTime time.Duration `json:"max_execution_time"`
}

// ResilienceConfig tunes retry and circuit breaking for an executor or tool
// call. Zero values fall back to the invoker defaults.
type ResilienceConfig struct {
	MaxRetries       int           `json:"max_retries"`
	BaseDelay        time.Duration `json:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	JitterFraction   float64       `json:"jitter_fraction"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}
