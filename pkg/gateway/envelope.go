package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the {op, d} wrapper around every non-bare protocol frame.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Identify is the payload of the only inbound opcode the gateway acts on.
type Identify struct {
	Token string `json:"token"`
}

// ErrNoToken is returned when an Identify envelope is missing its token.
var ErrNoToken = errors.New("no token")

// Decode parses an inbound text frame into an envelope. Malformed JSON,
// a missing or non-integer op, and opcodes outside the table are all
// rejected; the session treats any error here as fatal to the connection.
func Decode(data []byte) (*Envelope, error) {
	var raw struct {
		Op *int64          `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if raw.Op == nil {
		return nil, errors.New("no opcode")
	}

	op, err := ParseOpcode(*raw.Op)
	if err != nil {
		return nil, err
	}
	if raw.D == nil {
		return nil, errors.New("no data")
	}

	return &Envelope{Op: op, D: raw.D}, nil
}

// IdentifyPayload extracts the Identify payload from an envelope.
func (e *Envelope) IdentifyPayload() (*Identify, error) {
	var p Identify
	if err := json.Unmarshal(e.D, &p); err != nil {
		return nil, fmt.Errorf("malformed identify payload: %w", err)
	}
	if p.Token == "" {
		return nil, ErrNoToken
	}
	return &p, nil
}
