package state

// reduce derives the next composite state from the current state and one
// discrete action. It is pure: no side effects, no scheduling, value in,
// value out. Every zoom write funnels through ClampZoom and export
// progress never decreases while a job is active.
func reduce(s State, a Action) State {
	switch act := a.(type) {
	case ConnectionChanged:
		s.Connection = ConnectionState{
			Status:            act.Status,
			ReconnectAttempts: act.Attempts,
			LastError:         act.Err,
		}

	case ViewportChanged:
		s.View.Viewport = act.Preset
		s.View.Reflowing = true

	case ReflowSettled:
		s.View.Reflowing = false

	case ZoomSet:
		s.View.Zoom = ClampZoom(act.Zoom)

	case PanSet:
		s.View.Pan = Pan{X: act.X, Y: act.Y}

	case PanReset:
		s.View.Pan = Pan{}

	case FitToScreen:
		// Both fields change in one transition, never one without the other.
		s.View.Zoom = 1.0
		s.View.Pan = Pan{}

	case FullscreenChanged:
		s.View.Fullscreen = act.Fullscreen

	case PerformanceSampled:
		s.Performance = act.Snapshot

	case ExportStarted:
		s.Export = ExportJob{
			Active:     true,
			ExportType: act.ExportType,
			Progress:   0,
		}

	case ExportProgressed:
		if !s.Export.Active {
			// Progress for a job that is not running (cancelled, or a
			// stale remote envelope) is ignored.
			break
		}
		p := act.Progress
		if p > 100 {
			p = 100
		}
		if p > s.Export.Progress {
			s.Export.Progress = p
		}

	case ExportSucceeded:
		if !s.Export.Active {
			break
		}
		s.Export.Active = false
		s.Export.Progress = 100
		s.Export.DownloadURL = act.DownloadURL
		s.Export.Err = nil

	case ExportFailed:
		if !s.Export.Active {
			break
		}
		s.Export.Active = false
		s.Export.Err = act.Err

	case ExportCancelled:
		s.Export.Active = false
		s.Export.Progress = 0
		s.Export.Err = nil
		s.Export.DownloadURL = ""

	case RemoteUpdateReceived, RemoteErrorReceived:
		// Passthrough actions: observers consume the payload, state is
		// unchanged.
	}

	return s
}
