package state

import (
	"encoding/json"

	"github.com/c360/previewsync/device"
)

// Action is the closed set of state transitions the container accepts.
// The unexported marker method keeps the union closed to this package,
// so the reducer's type switch is exhaustive over all possible actions.
type Action interface {
	isAction()
}

// ConnectionChanged reflects a transport status transition.
type ConnectionChanged struct {
	Status   ConnectionStatus
	Attempts int
	Err      error
}

// ViewportChanged replaces the device viewport and raises the transient
// reflow indicator.
type ViewportChanged struct {
	Preset device.Preset
}

// ReflowSettled clears the reflow indicator after the simulated reflow
// duration elapses.
type ReflowSettled struct{}

// ZoomSet sets the zoom level. The reducer clamps the value to the valid
// range; out-of-range values are never rejected.
type ZoomSet struct {
	Zoom float64
}

// PanSet sets the pan offset. Translation is unconstrained.
type PanSet struct {
	X float64
	Y float64
}

// PanReset returns the pan offset to the origin.
type PanReset struct{}

// FitToScreen resets zoom to 1 and pan to the origin in a single
// transition; no observer sees one reset without the other.
type FitToScreen struct{}

// FullscreenChanged mirrors fullscreen state, whether from an explicit
// call or an external fullscreen-change notification. Idempotent.
type FullscreenChanged struct {
	Fullscreen bool
}

// PerformanceSampled replaces the performance snapshot wholesale.
type PerformanceSampled struct {
	Snapshot PerformanceSnapshot
}

// ExportStarted begins the single export job.
type ExportStarted struct {
	ExportType string
}

// ExportProgressed advances export progress. The reducer enforces
// monotonic non-decrease and ignores progress for an inactive job.
type ExportProgressed struct {
	Progress int
}

// ExportSucceeded completes the job with a download URL.
type ExportSucceeded struct {
	DownloadURL string
}

// ExportFailed completes the job with an error.
type ExportFailed struct {
	Err error
}

// ExportCancelled resets the job locally. Cancellation is cooperative:
// the remote operation is not guaranteed to stop.
type ExportCancelled struct{}

// RemoteUpdateReceived carries an inbound update payload through the
// notification path. State is unchanged; observers consume the payload.
type RemoteUpdateReceived struct {
	Payload json.RawMessage
}

// RemoteErrorReceived carries an inbound error payload through the
// notification path. State is unchanged; a remote error never
// destabilizes the connection.
type RemoteErrorReceived struct {
	Payload json.RawMessage
}

func (ConnectionChanged) isAction() {}
func (ViewportChanged) isAction() {}
func (ReflowSettled) isAction() {}
func (ZoomSet) isAction() {}
func (PanSet) isAction() {}
func (PanReset) isAction() {}
func (FitToScreen) isAction() {}
func (FullscreenChanged) isAction() {}
func (PerformanceSampled) isAction() {}
func (ExportStarted) isAction() {}
func (ExportProgressed) isAction() {}
func (ExportSucceeded) isAction() {}
func (ExportFailed) isAction() {}
func (ExportCancelled) isAction() {}
func (RemoteUpdateReceived) isAction() {}
func (RemoteErrorReceived) isAction() {}
