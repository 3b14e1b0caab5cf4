// Package preview is the programmatic surface of the live preview
// synchronization system. A Provider wires the connection manager, the
// state container, the view controller, the performance monitor, and
// the export orchestrator into one facade; a Registry manages named
// providers without any package-level state.
//
// Typical use:
//
//	p, err := preview.New("editor", "wss://preview.example.com/sync")
//	if err != nil { ... }
//	defer p.Close()
//
//	p.OnUpdate(func(payload json.RawMessage) { ... })
//	if err := p.Connect(ctx); err != nil { ... }
//	_ = p.SendUpdate(map[string]any{"html": rendered})
package preview
