package guard

import "time"

// Result is the outcome of a guard check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	Guard      string        `json:"guard,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func allow() Result { return Result{Allowed: true} }
