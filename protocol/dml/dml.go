// Package dml encodes and decodes KI's flat, positionally-typed data
// message records: each field has a fixed wire type and the fields are
// read or written strictly in declaration order, with no tags on the
// wire, so a Layout is just an ordered field list rather than a schema
// keyed by ID.
//
// Only the three layouts the built-in redirect and spoof listeners
// rewrite are implemented: CharacterSelected and ServerTransfer carry
// the upstream address a client is being sent to, and ConnectionStats
// carries the address back the other way.
package dml

import (
	"fmt"

	"github.com/vbe0201/wizproxy/internal/binary"
)

// Type is a DML primitive's wire encoding.
type Type int

const (
	BYT Type = iota
	UBYT
	USHRT
	INT
	UINT
	GID
	STR
	WSTR
	FLT
	DBL
)

// Field names one positional slot of a Layout.
type Field struct {
	Name string
	Type Type
}

// Layout describes the positional field list of one DML message.
type Layout []Field

// Message is a decoded DML record, keyed by field name. Values are the Go
// type matching the field's DML Type: int8, uint8, uint16, int32, uint32,
// uint64, []byte, string, float32, or float64.
type Message map[string]any

// Decode parses raw into a Message following the layout's field order.
func (l Layout) Decode(raw []byte) (Message, error) {
	buf := binary.NewFromBytes(raw)
	msg := make(Message, len(l))

	for _, f := range l {
		v, err := decodeField(buf, f.Type)
		if err != nil {
			return nil, fmt.Errorf("dml: field %q: %w", f.Name, err)
		}
		msg[f.Name] = v
	}

	return msg, nil
}

// Encode serializes msg following the layout's field order, looking up
// each field by name.
func (l Layout) Encode(msg Message) ([]byte, error) {
	buf := binary.New()

	for _, f := range l {
		v, ok := msg[f.Name]
		if !ok {
			return nil, fmt.Errorf("dml: message missing field %q", f.Name)
		}
		if err := encodeField(buf, f.Type, v); err != nil {
			return nil, fmt.Errorf("dml: field %q: %w", f.Name, err)
		}
	}

	return buf.Bytes(), nil
}

func decodeField(buf *binary.Buffer, t Type) (any, error) {
	switch t {
	case BYT:
		return buf.I8()
	case UBYT:
		return buf.U8()
	case USHRT:
		return buf.U16()
	case INT:
		return buf.I32()
	case UINT:
		return buf.U32()
	case GID:
		return buf.U64()
	case STR:
		return buf.String()
	case WSTR:
		return buf.WStr()
	case FLT:
		return buf.F32()
	case DBL:
		return buf.F64()
	default:
		return nil, fmt.Errorf("dml: unknown type %d", t)
	}
}

func encodeField(buf *binary.Buffer, t Type, v any) error {
	switch t {
	case BYT:
		buf.WriteI8(v.(int8))
	case UBYT:
		buf.WriteU8(v.(uint8))
	case USHRT:
		buf.WriteU16(v.(uint16))
	case INT:
		buf.WriteI32(v.(int32))
	case UINT:
		buf.WriteU32(v.(uint32))
	case GID:
		buf.WriteU64(v.(uint64))
	case STR:
		buf.WriteString(v.([]byte))
	case WSTR:
		buf.WriteWStr(v.(string))
	case FLT:
		buf.WriteF32(v.(float32))
	case DBL:
		buf.WriteF64(v.(float64))
	default:
		return fmt.Errorf("dml: unknown type %d", t)
	}
	return nil
}

// CharacterSelected is MSG_CHARACTERSELECTED (service 7, order 3): the
// server directing the client to a new zone server after character pick.
var CharacterSelected = Layout{
	{"IP", STR},
	{"TCPPort", INT},
	{"UDPPort", INT},
	{"Key", STR},
	{"UserID", GID},
	{"CharID", GID},
	{"ZoneID", GID},
	{"ZoneName", STR},
	{"Location", STR},
	{"Slot", INT},
	{"PrepPhase", INT},
	{"Error", INT},
	{"LoginServer", STR},
}

// ServerTransfer is MSG_SERVERTRANSFER (service 5, order 221): a
// mid-session transfer to a new zone server, with a fallback address.
var ServerTransfer = Layout{
	{"IP", STR},
	{"TCPPort", INT},
	{"UDPPort", INT},
	{"Key", INT},
	{"UserID", GID},
	{"CharID", GID},
	{"ZoneName", STR},
	{"ZoneID", GID},
	{"Location", STR},
	{"Slot", INT},
	{"SessionID", GID},
	{"SessionSlot", INT},
	{"TargetPlayerID", GID},
	{"FallbackIP", STR},
	{"FallbackTCPPort", INT},
	{"FallbackUDPPort", INT},
	{"FallbackKey", INT},
	{"FallbackZone", STR},
	{"FallbackZoneID", GID},
	{"TransitionID", INT},
}

// ConnectionStats is MSG_CONNECTIONSTATS (service 53, order 67): the
// client reporting connection quality back to the server it believes it
// is talking to.
var ConnectionStats = Layout{
	{"ServerHostname", STR},
	{"ServerPort", INT},
	{"ConnectMS", INT},
	{"Timeouts", INT},
	{"Errors", INT},
}
