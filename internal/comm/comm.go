package comm

import "encoding/json"

// OpCode identifies the four packet kinds carried over the persistent
// websocket connection.
type OpCode int

const (
	OpRequest   OpCode = 1
	OpResponse  OpCode = 2
	OpNotify    OpCode = 3
	OpOperation OpCode = 4
)

// Packet is the envelope every frame decodes into. Fields are populated
// depending on OpCode: REQUEST/NOTIFY carry service+method, RESPONSE carries
// a payload with {error|result}, OPERATION carries command+args.
type Packet struct {
	OpCode  OpCode          `json:"opcode"`
	Service string          `json:"service,omitempty"`
	Method  string          `json:"method,omitempty"`
	Headers map[string]any  `json:"headers,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Header keys and operation commands used on the wire.
const (
	HeaderRPCID   = "rpc-id"
	HeaderRPCAuth = "rpc-authorization"
	HeaderAuth    = "authorization"
	SessionPrefix = "sora-session "

	CommandPing  = "ping"
	CommandPong  = "pong"
	CommandClose = "close"
)

// ErrorLevel mirrors the severity attached to a server-reported error.
type ErrorLevel int

const (
	// LevelExpected marks validation-style business errors the user can act on.
	LevelExpected ErrorLevel = 1
	// LevelUnexpected marks everything else.
	LevelUnexpected ErrorLevel = 2
)

// PayloadError is the error half of a RESPONSE payload.
type PayloadError struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Level   ErrorLevel `json:"level"`
	Name    string     `json:"name"`
}

// ResponsePayload is what a RESPONSE packet's payload decodes into.
type ResponsePayload struct {
	Error  *PayloadError   `json:"error"`
	Result json.RawMessage `json:"result"`
}

// RequestPacket builds a REQUEST frame ready for marshaling.
func RequestPacket(service, method string, rpcID uint64, token string, payload json.RawMessage) *Packet {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return &Packet{
		OpCode:  OpRequest,
		Service: service,
		Method:  method,
		Headers: map[string]any{
			HeaderRPCID:   rpcID,
			HeaderRPCAuth: token,
			HeaderAuth:    SessionPrefix + token,
		},
		Payload: payload,
	}
}

// OperationPacket builds an OPERATION frame (ping/pong/close).
func OperationPacket(command string, args json.RawMessage) *Packet {
	return &Packet{
		OpCode:  OpOperation,
		Command: command,
		Args:    args,
	}
}

// RPCID extracts the correlation id header from a RESPONSE packet. The id
// travels as a JSON number, which decodes to float64.
func (p *Packet) RPCID() (uint64, bool) {
	raw, ok := p.Headers[HeaderRPCID]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		return uint64(v), true
	}
	return 0, false
}
