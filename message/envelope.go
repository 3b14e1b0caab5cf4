package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/previewsync/errors"
)

// Version is the current protocol version. Inbound envelopes declaring a
// higher version are rejected as protocol errors.
const Version = 1

// Type identifies the kind of envelope on the wire.
type Type string

// Valid envelope types.
const (
	TypeUpdate      Type = "update"
	TypeError       Type = "error"
	TypePerformance Type = "performance"
	TypeExport      Type = "export"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
)

// IsValid reports whether t is a known envelope type.
func (t Type) IsValid() bool {
	switch t {
	case TypeUpdate, TypeError, TypePerformance, TypeExport, TypePing, TypePong:
		return true
	default:
		return false
	}
}

// Envelope is the unit of wire communication. It is immutable after
// creation - all fields are set during construction and cannot be
// modified, which keeps a queued envelope identical when it is finally
// transmitted after a reconnect.
type Envelope struct {
	id        string
	version   int
	msgType   Type
	payload   json.RawMessage
	timestamp time.Time
}

// Option is a functional option for configuring Envelope construction.
type Option func(*Envelope)

// WithID overrides the generated envelope id. Useful for replaying
// captured traffic in tests.
func WithID(id string) Option {
	return func(e *Envelope) {
		e.id = id
	}
}

// WithTimestamp sets a specific creation timestamp instead of time.Now().
func WithTimestamp(ts time.Time) Option {
	return func(e *Envelope) {
		e.timestamp = ts
	}
}

// New creates an envelope of the given type, marshalling payload to JSON.
// A nil payload produces an envelope with an empty payload body.
func New(msgType Type, payload any, opts ...Option) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "New", "marshal payload")
		}
		raw = data
	}
	return NewRaw(msgType, raw, opts...)
}

// NewRaw creates an envelope from an already-serialized payload.
func NewRaw(msgType Type, payload json.RawMessage, opts ...Option) (*Envelope, error) {
	if !msgType.IsValid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown type %q", errors.ErrInvalidEnvelope, msgType),
			"message", "NewRaw", "validate type")
	}

	e := &Envelope{
		id:        uuid.New().String(),
		version:   Version,
		msgType:   msgType,
		payload:   payload,
		timestamp: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ID returns the unique envelope identifier.
func (e *Envelope) ID() string {
	return e.id
}

// Version returns the protocol version the envelope was encoded with.
func (e *Envelope) Version() int {
	return e.version
}

// Type returns the envelope type.
func (e *Envelope) Type() Type {
	return e.msgType
}

// Payload returns the raw JSON payload. The returned slice must not be
// mutated by the caller.
func (e *Envelope) Payload() json.RawMessage {
	return e.payload
}

// Timestamp returns the envelope creation time.
func (e *Envelope) Timestamp() time.Time {
	return e.timestamp
}

// DecodePayload unmarshals the payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.payload) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty payload", errors.ErrInvalidEnvelope),
			"message", "DecodePayload", "unmarshal payload")
	}
	if err := json.Unmarshal(e.payload, dst); err != nil {
		return errors.WrapInvalid(err, "message", "DecodePayload", "unmarshal payload")
	}
	return nil
}

// wireFormat is the JSON wire representation of an Envelope. It has
// public fields for JSON marshalling while Envelope itself stays
// immutable.
type wireFormat struct {
	Version   int             `json:"version"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
	ID        string          `json:"id"`
}

// Encode serializes the envelope to its JSON wire form.
func (e *Envelope) Encode() ([]byte, error) {
	wire := wireFormat{
		Version:   e.version,
		Type:      e.msgType,
		Payload:   e.payload,
		Timestamp: e.timestamp.Format(time.RFC3339Nano),
		ID:        e.id,
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "Encode", "marshal wire format")
	}
	return data, nil
}

// Decode parses and validates a single wire frame.
//
// Validation is strict for the fields that matter to routing: an unknown
// type or a version above the current one fails with ErrInvalidEnvelope /
// ErrUnsupportedVersion. A missing timestamp is tolerated (kept zero for
// diagnostics) - remote clocks are advisory, not load-bearing.
func Decode(data []byte) (*Envelope, error) {
	var wire wireFormat
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.WrapInvalid(err, "message", "Decode", "unmarshal wire format")
	}

	if !wire.Type.IsValid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown type %q", errors.ErrInvalidEnvelope, wire.Type),
			"message", "Decode", "validate type")
	}

	// Version 0 means a peer predating the version field; treat as v1.
	version := wire.Version
	if version == 0 {
		version = Version
	}
	if version > Version {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: version %d, current %d", errors.ErrUnsupportedVersion, version, Version),
			"message", "Decode", "validate version")
	}

	var ts time.Time
	if wire.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "Decode", "parse timestamp")
		}
		ts = parsed
	}

	return &Envelope{
		id:        wire.ID,
		version:   version,
		msgType:   wire.Type,
		payload:   wire.Payload,
		timestamp: ts,
	}, nil
}
