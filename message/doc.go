// Package message defines the wire envelope for the live preview
// protocol.
//
// Every frame exchanged with the preview renderer is a JSON-encoded
// Envelope carrying a protocol version, a message type, an opaque JSON
// payload, an RFC 3339 timestamp, and a unique id. The id exists for
// diagnostics only - there is no request/response correlation layer in
// the protocol.
//
// Envelopes are immutable after construction. Use New to build an
// envelope from a Go payload value, or NewRaw when the payload is
// already serialized:
//
//	env, err := message.New(message.TypeUpdate, componentTree)
//	env, err := message.NewRaw(message.TypePing, nil)
//
// Decode validates inbound frames strictly: an unknown type or an
// unsupported protocol version is a protocol error and the frame must
// be dropped by the caller without affecting connection state.
package message
