package machine

// OperationKind identifies a safety-checkable action.
type OperationKind string

const (
	OpUnlock         OperationKind = "unlock"
	OpHome           OperationKind = "home"
	OpSoftReset      OperationKind = "soft_reset"
	OpEmergencyStop  OperationKind = "emergency_stop"
	OpSendGcode      OperationKind = "send_gcode"
	OpRunDiagnostics OperationKind = "run_diagnostics"
)

// OperationRequest is one requested action, created per call and discarded
// after the decision.
type OperationRequest struct {
	Kind    OperationKind
	Payload string
}

// Decision is the gate's verdict. Denials are an expected outcome, not an
// error: callers branch on Allowed.
type Decision struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	RequiredModes []Mode `json:"required_modes,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string, required ...Mode) Decision {
	return Decision{Allowed: false, Reason: reason, RequiredModes: required}
}

// CheckOperation is the single safety decision table for every command the
// facade can issue. It is a pure function of the request and the latest
// snapshot; rules are evaluated in priority order and the first match wins.
// state may be nil when no status query has ever succeeded; that counts
// as unknown and stale for every rule below.
func CheckOperation(req OperationRequest, state *State) Decision {
	// Emergency stop escapes every condition, including a dead connection.
	// The gate must never block the one command meant to escape it.
	if req.Kind == OpEmergencyStop {
		return allow()
	}

	// Unlock is the designated recovery path out of alarm; it is legal in
	// every mode and does not require a fresh snapshot.
	if req.Kind == OpUnlock {
		return allow()
	}

	if state == nil {
		return deny("machine status unknown; cannot verify safety")
	}

	if state.Mode == ModeAlarm {
		return deny("machine in alarm state; unlock first")
	}

	switch req.Kind {
	case OpHome:
		if state.InMotion() {
			return deny("cannot home while machine is moving")
		}
		if state.Source == SourceStale {
			return deny("machine status unknown; cannot verify safety")
		}
		return allow()

	case OpSoftReset:
		if state.Mode == ModeRun {
			return deny("cannot reset during active run; stop first")
		}
		return allow()

	case OpSendGcode, OpRunDiagnostics:
		if state.Source == SourceStale {
			return deny("machine status unknown; cannot verify safety", ModeIdle, ModeCheck)
		}
		if state.Mode != ModeIdle && state.Mode != ModeCheck {
			return deny("machine must be idle", ModeIdle, ModeCheck)
		}
		return allow()
	}

	return deny("unknown operation")
}
