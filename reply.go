package busscan

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reply is a decoded reply envelope. Exactly one of Value and Failure is set.
type Reply struct {
	Value   json.RawMessage
	Failure *ProtocolError
}

// Err returns the reply's ProtocolError, or nil for a successful reply.
func (r Reply) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// replyEnvelope is the wire form: {"value": ...} or {"error": {...}}
type replyEnvelope struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error *ProtocolError  `json:"error,omitempty"`
}

// DecodeReply classifies a raw envelope. An envelope with neither or
// both of value and error is rejected with ErrMalformedReply; a JSON
// null counts as absent.
func DecodeReply(raw []byte) (Reply, error) {
	var env replyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	hasValue := len(env.Value) > 0 && !bytes.Equal(env.Value, []byte("null"))
	hasError := env.Error != nil

	switch {
	case hasValue && hasError:
		return Reply{}, fmt.Errorf("%w: both value and error set", ErrMalformedReply)
	case hasError:
		return Reply{Failure: env.Error}, nil
	case hasValue:
		return Reply{Value: env.Value}, nil
	default:
		return Reply{}, fmt.Errorf("%w: neither value nor error set", ErrMalformedReply)
	}
}

// DecodeValue unwraps a successful reply into T. A failed reply returns
// its ProtocolError.
func DecodeValue[T any](r Reply) (T, error) {
	var v T
	if r.Failure != nil {
		return v, r.Failure
	}
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return v, fmt.Errorf("%w: value: %v", ErrMalformedReply, err)
	}
	return v, nil
}

// EncodeValue builds a success envelope.
func EncodeValue(v any) ([]byte, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(replyEnvelope{Value: value})
}

// EncodeError builds an error envelope.
func EncodeError(pe *ProtocolError) []byte {
	// A struct of an int and a string always marshals
	raw, _ := json.Marshal(replyEnvelope{Error: pe})
	return raw
}
