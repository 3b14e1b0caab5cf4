// Package state implements the deterministic state container at the
// center of the preview synchronization system.
//
// All four sub-models - connection, view, performance, and export - are
// updated through a single reducer dispatch path, so observers reading a
// snapshot never see a state that mixes a partially-applied view change
// with a partially-applied connection change.
package state

import (
	"time"

	"github.com/c360/previewsync/device"
)

// ConnectionStatus represents the lifecycle state of the transport
// connection as reflected in the container.
type ConnectionStatus int

// Possible connection statuses. The zero value is closed: a new
// container starts with no connection.
const (
	StatusClosed ConnectionStatus = iota
	StatusConnecting
	StatusOpen
	StatusClosing
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ConnectionState mirrors the connection manager's view of the transport.
// Transitions are driven exclusively by transport events and explicit
// connect/disconnect calls.
type ConnectionState struct {
	Status            ConnectionStatus
	ReconnectAttempts int
	LastError         error
}

// Zoom bounds. Any attempt to set zoom outside this range is clamped,
// never rejected.
const (
	MinZoom = 0.1
	MaxZoom = 3.0
)

// ClampZoom constrains z to the valid zoom range.
func ClampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// Pan is a translation offset in preview pixels.
type Pan struct {
	X float64
	Y float64
}

// ViewState holds the editor's viewport configuration. Reflowing is the
// transient loading indicator raised while a viewport change settles.
type ViewState struct {
	Viewport   device.Preset
	Zoom       float64
	Pan        Pan
	Fullscreen bool
	Reflowing  bool
}

// PerformanceSnapshot is one sampling tick of preview performance data.
// Snapshots replace each other wholesale; the core keeps no history.
type PerformanceSnapshot struct {
	RenderTime     time.Duration
	LoadTime       time.Duration
	MemoryUsage    uint64
	BundleSize     uint64
	FPS            float64
	ComponentCount int
	LastUpdated    time.Time
}

// ExportJob tracks the single in-flight export. Progress is monotonically
// non-decreasing while the job is active and the job reaches a terminal
// state before Active reads false.
type ExportJob struct {
	Active      bool
	ExportType  string
	Progress    int
	Err         error
	DownloadURL string
}

// State is the composite snapshot handed to observers. It is a value
// type: observers and readers get copies and can never alias container
// internals.
type State struct {
	Connection  ConnectionState
	View        ViewState
	Performance PerformanceSnapshot
	Export      ExportJob
}

// initialState is the state of a freshly constructed container.
func initialState() State {
	return State{
		View: ViewState{
			Viewport: device.Default(),
			Zoom:     1.0,
		},
	}
}
