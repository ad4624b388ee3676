package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stateIn(mode Mode, src Source) *State {
	return &State{Mode: mode, Source: src}
}

func TestCheckOperationDecisionTable(t *testing.T) {
	tests := []struct {
		name    string
		op      OperationKind
		state   *State
		allowed bool
	}{
		// Emergency stop is never blocked.
		{"estop with nil state", OpEmergencyStop, nil, true},
		{"estop in alarm", OpEmergencyStop, stateIn(ModeAlarm, SourceFresh), true},
		{"estop mid run", OpEmergencyStop, stateIn(ModeRun, SourceFresh), true},
		{"estop on stale state", OpEmergencyStop, stateIn(ModeRun, SourceStale), true},

		// Unlock is the recovery path and is always legal.
		{"unlock with nil state", OpUnlock, nil, true},
		{"unlock in alarm", OpUnlock, stateIn(ModeAlarm, SourceFresh), true},
		{"unlock while idle", OpUnlock, stateIn(ModeIdle, SourceFresh), true},
		{"unlock on stale state", OpUnlock, stateIn(ModeIdle, SourceStale), true},

		// Alarm blocks everything else.
		{"home in alarm", OpHome, stateIn(ModeAlarm, SourceFresh), false},
		{"reset in alarm", OpSoftReset, stateIn(ModeAlarm, SourceFresh), false},
		{"gcode in alarm", OpSendGcode, stateIn(ModeAlarm, SourceFresh), false},
		{"diagnostics in alarm", OpRunDiagnostics, stateIn(ModeAlarm, SourceFresh), false},

		// Nil state means nothing can be verified.
		{"home with nil state", OpHome, nil, false},
		{"gcode with nil state", OpSendGcode, nil, false},
		{"diagnostics with nil state", OpRunDiagnostics, nil, false},

		// Homing is denied during motion and on stale data.
		{"home while idle", OpHome, stateIn(ModeIdle, SourceFresh), true},
		{"home while running", OpHome, stateIn(ModeRun, SourceFresh), false},
		{"home while jogging", OpHome, stateIn(ModeJog, SourceFresh), false},
		{"home on stale state", OpHome, stateIn(ModeIdle, SourceStale), false},
		{"home on cached state", OpHome, stateIn(ModeIdle, SourceCached), true},

		// Soft reset is denied only during an active run.
		{"reset while idle", OpSoftReset, stateIn(ModeIdle, SourceFresh), true},
		{"reset while running", OpSoftReset, stateIn(ModeRun, SourceFresh), false},
		{"reset while holding", OpSoftReset, stateIn(ModeHold, SourceFresh), true},
		{"reset on stale state", OpSoftReset, stateIn(ModeIdle, SourceStale), true},

		// Gcode and diagnostics need an idle machine and current data.
		{"gcode while idle", OpSendGcode, stateIn(ModeIdle, SourceFresh), true},
		{"gcode in check mode", OpSendGcode, stateIn(ModeCheck, SourceFresh), true},
		{"gcode while running", OpSendGcode, stateIn(ModeRun, SourceFresh), false},
		{"gcode while holding", OpSendGcode, stateIn(ModeHold, SourceFresh), false},
		{"gcode on stale state", OpSendGcode, stateIn(ModeIdle, SourceStale), false},
		{"diagnostics while idle", OpRunDiagnostics, stateIn(ModeIdle, SourceFresh), true},
		{"diagnostics in check mode", OpRunDiagnostics, stateIn(ModeCheck, SourceFresh), true},
		{"diagnostics while jogging", OpRunDiagnostics, stateIn(ModeJog, SourceFresh), false},
		{"diagnostics on stale state", OpRunDiagnostics, stateIn(ModeIdle, SourceStale), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := CheckOperation(OperationRequest{Kind: tt.op}, tt.state)
			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, decision.Reason, "denials must carry a reason")
			}
		})
	}
}

func TestCheckOperationDenialCarriesRequiredModes(t *testing.T) {
	decision := CheckOperation(
		OperationRequest{Kind: OpSendGcode},
		stateIn(ModeRun, SourceFresh))

	assert.False(t, decision.Allowed)
	assert.Equal(t, []Mode{ModeIdle, ModeCheck}, decision.RequiredModes)
}

func TestCheckOperationUnknownKind(t *testing.T) {
	decision := CheckOperation(
		OperationRequest{Kind: OperationKind("telekinesis")},
		stateIn(ModeIdle, SourceFresh))

	assert.False(t, decision.Allowed)
}
