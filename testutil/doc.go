// Package testutil provides testing utilities for previewsync
// integration tests.
//
// The central helper is Server, an in-process WebSocket endpoint backed
// by httptest that speaks the envelope protocol: it records everything
// it receives, answers pings with pongs, and can refuse upgrades or drop
// live connections on demand to exercise the reconnection paths.
//
// Everything here runs in-process; no containers or external services
// are required.
package testutil
