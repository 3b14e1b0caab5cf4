package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection lost", ErrConnectionLost, true},
		{"not connected", ErrNotConnected, true},
		{"queue full", ErrQueueFull, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"connect in progress", ErrConnectInProgress, false},
		{"max reconnects", ErrMaxReconnectsExceeded, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connect in progress", ErrConnectInProgress, true},
		{"export in progress", ErrExportInProgress, true},
		{"invalid envelope", ErrInvalidEnvelope, true},
		{"unsupported version", ErrUnsupportedVersion, true},
		{"provider exists", ErrProviderExists, true},
		{"connection lost", ErrConnectionLost, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"max reconnects exceeded", ErrMaxReconnectsExceeded, true},
		{"invalid config", ErrInvalidConfig, true},
		{"registry closed", ErrRegistryClosed, true},
		{"connection lost", ErrConnectionLost, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"transient sentinel", ErrConnectionLost, ErrorTransient},
		{"invalid sentinel", ErrExportInProgress, ErrorInvalid},
		{"fatal sentinel", ErrMaxReconnectsExceeded, ErrorFatal},
		{"unknown error", fmt.Errorf("something else"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrap_Format(t *testing.T) {
	base := fmt.Errorf("dial tcp: refused")
	err := Wrap(base, "wsclient", "Connect", "dial")

	expected := "wsclient.Connect: dial failed: dial tcp: refused"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
}

func TestWrap_NilError(t *testing.T) {
	if Wrap(nil, "c", "m", "a") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapTransient(nil, "c", "m", "a") != nil {
		t.Error("WrapTransient(nil) should return nil")
	}
	if WrapInvalid(nil, "c", "m", "a") != nil {
		t.Error("WrapInvalid(nil) should return nil")
	}
	if WrapFatal(nil, "c", "m", "a") != nil {
		t.Error("WrapFatal(nil) should return nil")
	}
}

func TestWrapClassified_PreservesClassAndChain(t *testing.T) {
	base := ErrQueueFull
	err := WrapTransient(base, "wsclient", "Send", "enqueue")

	if !IsTransient(err) {
		t.Error("WrapTransient result should classify transient")
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Error("wrapped sentinel should survive the chain")
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatal("expected ClassifiedError in chain")
	}
	if ce.Component != "wsclient" || ce.Operation != "Send" {
		t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
	}
	if !strings.Contains(ce.Error(), "enqueue failed") {
		t.Errorf("message missing action context: %s", ce.Error())
	}
}

func TestWrapFatal_OverridesChainClassification(t *testing.T) {
	// A transient sentinel wrapped fatal reads as fatal: the outermost
	// classification wins.
	err := WrapFatal(ErrConnectionLost, "wsclient", "reconnect", "retry budget")

	if !IsFatal(err) {
		t.Error("expected fatal classification")
	}
	if IsTransient(err) {
		t.Error("outer classification should shadow the sentinel default")
	}
}
