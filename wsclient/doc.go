// Package wsclient implements the connection manager for the live
// preview protocol: it owns exactly one WebSocket transport connection,
// reconnects it transparently with exponential backoff, heartbeats it
// while open, and moves typed envelopes in both directions.
//
// # Offline Queue
//
// Envelopes sent while the connection is not open are buffered in a
// bounded FIFO queue and transmitted, in original enqueue order, as soon
// as the connection reopens - before any newly issued send is admitted
// ahead of the backlog. Heartbeat pings are generated only while open,
// so they never enter the queue and are never reordered relative to
// queued application messages.
//
// # Reconnection
//
// The delay before reconnect attempt n is BaseInterval × 2^(n−1),
// uncapped per attempt. Once the attempt count reaches the policy's
// MaxAttempts the process stops entirely: the manager surfaces a
// terminal error, retains it as the last error, and schedules no further
// timer. The only way out of the terminal state is RetryConnection,
// which fully resets the attempt counter. A drop of an established
// connection starts a fresh failure series from attempt zero.
//
// # Heartbeat
//
// While open the manager sends an application-level ping envelope every
// heartbeat interval and answers inbound pings with pongs. Receipt of a
// pong is recorded and exposed through Health, but a missing pong does
// not currently force a reconnect; dead-connection detection relies on
// the transport read failing.
//
// Malformed inbound frames are logged, counted, and dropped without
// affecting connection state: one bad frame must not destabilize an
// otherwise healthy connection.
package wsclient
