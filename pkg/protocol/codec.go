package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common codec errors.
var (
	ErrMissingKind = errors.New("protocol: message has no kind tag")
	ErrNilMessage  = errors.New("protocol: nil message")
)

// UnknownKindError is returned by Decode when the kind tag does not match
// any known message kind.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("protocol: unknown message kind %q", e.Kind)
}

// DecodeError wraps a payload parse failure with the kind being decoded.
type DecodeError struct {
	Kind MessageKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error { return e.Err }

// envelope is the wire form of every message. Kind is declared first so
// encoders emit it first and decoders can dispatch on it before parsing
// the payload.
type envelope struct {
	Kind    MessageKind     `json:"kind"`
	Version string          `json:"version,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Encode serializes a message to its wire form. The input is never
// mutated. A version tag is injected only when the caller has not
// provided one via EncodeVersioned, so already-versioned envelopes are
// never overwritten.
func Encode(msg Message) ([]byte, error) {
	return EncodeVersioned(msg, "")
}

// EncodeVersioned serializes a message with an explicit envelope version.
// An empty version falls back to Current.
func EncodeVersioned(msg Message, version string) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Kind(), err)
	}
	if version == "" {
		version = Current.String()
	}
	return json.Marshal(envelope{
		Kind:    msg.Kind(),
		Version: version,
		Data:    data,
	})
}

// Decode parses a wire message back into its typed form, dispatching on
// the kind tag. The tag is matched case-insensitively to tolerate legacy
// senders. Unknown kinds return *UnknownKindError; malformed payloads
// return *DecodeError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Kind: "envelope", Err: err}
	}
	if env.Kind == "" {
		return nil, ErrMissingKind
	}
	return decodeKind(env.Kind, env.Data)
}

// WireVersion extracts the envelope version tag without fully decoding
// the payload. An absent tag returns MinSupported's string form, per the
// legacy-sender policy.
func WireVersion(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Version == "" {
		return MinSupported.String()
	}
	return env.Version
}

func decodeKind(kind MessageKind, data json.RawMessage) (Message, error) {
	var msg Message
	switch MessageKind(strings.ToLower(string(kind))) {
	case KindRegister:
		msg = &Register{}
	case KindRegistrationAck:
		msg = &RegistrationAck{}
	case KindHeartbeat:
		msg = &Heartbeat{}
	case KindStatusReport:
		msg = &StatusReport{}
	case KindLog:
		msg = &Log{}
	case KindScreenshotData:
		msg = &ScreenshotData{}
	case KindCommand:
		msg = &Command{}
	case KindDisplayUpdate:
		msg = &DisplayUpdate{}
	case KindConfigUpdate:
		msg = &ConfigUpdate{}
	case KindConfigUpdateAck:
		msg = &ConfigUpdateAck{}
	case KindLayoutAssigned:
		msg = &LayoutAssigned{}
	case KindDataUpdate:
		msg = &DataUpdate{}
	default:
		return nil, &UnknownKindError{Kind: string(kind)}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, msg); err != nil {
			return nil, &DecodeError{Kind: msg.Kind(), Err: err}
		}
	}
	return msg, nil
}
