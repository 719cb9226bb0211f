package session

// Phase 是会话状态机的阶段。
type Phase int

const (
	PhaseInit Phase = iota
	PhaseAcquireProxy
	PhaseLoggingIn
	PhaseMining
	PhaseRotatingProxy
	PhaseClaiming

	// 终止状态
	PhaseLoginFailed
	PhaseFailLimitReached
	PhaseProxyExhausted
	PhaseCompleted
	PhaseClaimFailed
	PhaseStopped
)

var phaseNames = [...]string{
	PhaseInit:             "INIT",
	PhaseAcquireProxy:     "ACQUIRE_PROXY",
	PhaseLoggingIn:        "LOGGING_IN",
	PhaseMining:           "MINING",
	PhaseRotatingProxy:    "ROTATING_PROXY",
	PhaseClaiming:         "CLAIMING",
	PhaseLoginFailed:      "LOGIN_FAILED",
	PhaseFailLimitReached: "FAIL_LIMIT_REACHED",
	PhaseProxyExhausted:   "PROXY_EXHAUSTED",
	PhaseCompleted:        "COMPLETED",
	PhaseClaimFailed:      "CLAIM_FAILED",
	PhaseStopped:          "STOPPED",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "UNKNOWN"
}

// Terminal reports whether the worker stops once it reaches p.
func (p Phase) Terminal() bool {
	return p >= PhaseLoginFailed
}

// MarshalText lets phases appear by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
