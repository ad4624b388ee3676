package system

import (
	"github.com/whttlr/cnc-bridge/internal/api/websocket"
	"github.com/whttlr/cnc-bridge/internal/diagnostics"
	"github.com/whttlr/cnc-bridge/internal/machine"
)

// liveFeed fans controller events out to websocket subscribers. Broadcasts
// never block the caller; the hub drops messages to slow clients instead.
type liveFeed struct {
	hub *websocket.Hub
}

func (f *liveFeed) MachineStateChanged(previous, current machine.Mode) {
	f.hub.Broadcast(websocket.NewMachineStateMessage(string(current), string(previous)))
}

func (f *liveFeed) DiagnosticsStep(res diagnostics.StepResult) {
	f.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeDiagnosticsStep, res))
}

func (f *liveFeed) DiagnosticsCompleted(report *diagnostics.Report) {
	f.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeDiagnosticsCompleted, report))
}
