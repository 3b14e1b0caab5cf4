// Package previewsync provides a resilient, message-oriented client for
// live preview synchronization between an editor and a remote preview
// renderer.
//
// # Architecture
//
// The system is built around a single deterministic state container. All
// mutation flows through one dispatch path, so observers reading a
// snapshot never see a partially applied transition:
//
//	┌─────────────────────────────────────┐
//	│         preview.Provider            │  Programmatic surface
//	│   (connect, send, export, observe)  │  Named instances via Registry
//	└─────────────────────────────────────┘
//	           ↓ dispatches into
//	┌─────────────────────────────────────┐
//	│         state.Container             │  Reducer over connection,
//	│   (actions → snapshots → observers) │  view, performance, export
//	└─────────────────────────────────────┘
//	           ↑ events from
//	┌─────────────────────────────────────┐
//	│         wsclient.Manager            │  One WebSocket transport,
//	│  (reconnect, heartbeat, offline Q)  │  typed envelopes both ways
//	└─────────────────────────────────────┘
//
// The connection manager (wsclient) owns the socket handle and the
// offline queue. It reconnects transparently with exponential backoff,
// heartbeats while open, and queues outbound envelopes while the
// transport is not open, draining them strictly FIFO on reopen. It has
// no knowledge of view state - it only moves typed envelopes.
//
// The view controller (view), performance monitor (perf), and export
// orchestrator (export) never mutate state directly; they act only by
// dispatching actions into the container.
//
// # Packages
//
//   - message: versioned JSON envelope codec (the wire unit)
//   - wsclient: connection manager with backoff, heartbeat, offline queue
//   - state: deterministic state container and action types
//   - view: viewport, zoom, pan, and fullscreen control
//   - perf: periodic performance sampling with pluggable probes
//   - export: cancellable, progress-reporting export jobs
//   - device: static device preset catalog
//   - preview: provider facade and explicit instance registry
//   - relay: optional NATS bridge for downstream telemetry consumers
//
// # Delivery Semantics
//
// Envelopes queued while disconnected are delivered at-least-once in
// enqueue order after reconnection. Exactly-once delivery across
// reconnect boundaries is explicitly out of scope; payload application
// is expected to be idempotent.
package previewsync
