// Package gateway defines the wire protocol spoken on the websocket
// gateway: the {op, d} envelope, the closed opcode table and the event
// union pushed from the server to connected clients.
package gateway

import "fmt"

// Opcode tags an envelope's payload type. The encoding is a stable small
// integer shared with the client; adding a value is a coordinated change
// on both ends.
type Opcode uint8

const (
	OpcodeIdentify Opcode = iota
	OpcodeReady
	OpcodeMessageCreate
	OpcodeChannelCreate
	OpcodeCustom
)

// String returns the string representation of Opcode.
func (op Opcode) String() string {
	switch op {
	case OpcodeIdentify:
		return "IDENTIFY"
	case OpcodeReady:
		return "READY"
	case OpcodeMessageCreate:
		return "MESSAGE_CREATE"
	case OpcodeChannelCreate:
		return "CHANNEL_CREATE"
	case OpcodeCustom:
		return "CUSTOM"
	default:
		return "UNKNOWN"
	}
}

// ParseOpcode converts the integer from an inbound envelope into an
// Opcode. Custom is outbound-only and is rejected here along with every
// value outside the table.
func ParseOpcode(v int64) (Opcode, error) {
	switch v {
	case 0:
		return OpcodeIdentify, nil
	case 1:
		return OpcodeReady, nil
	case 2:
		return OpcodeMessageCreate, nil
	case 3:
		return OpcodeChannelCreate, nil
	default:
		return 0, fmt.Errorf("unknown opcode %d", v)
	}
}
