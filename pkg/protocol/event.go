// Package protocol defines the frames exchanged between chat clients and the relay.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// EventType represents the type of a transport event
type EventType int

const (
	EventSubscribe EventType = iota
	EventSend
	EventMessage
	EventRoomCreated
	EventRoomRemoved
)

// String returns the string representation of EventType
func (et EventType) String() string {
	switch et {
	case EventSubscribe:
		return "SUBSCRIBE"
	case EventSend:
		return "SEND"
	case EventMessage:
		return "MESSAGE"
	case EventRoomCreated:
		return "ROOM_CREATED"
	case EventRoomRemoved:
		return "ROOM_REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether et is one of the known event types.
func (et EventType) Valid() bool {
	return et >= EventSubscribe && et <= EventRoomRemoved
}

// Room kinds carried by ROOM_CREATED and SEND frames.
const (
	RoomKindGlobal = 0
	RoomKindGroup  = 1
	RoomKindDirect = 2
)

// Event is a single frame on the wire.
//
// Which fields are set depends on Type:
//   - SUBSCRIBE: Room, SenderID
//   - SEND: Room, SenderID, SenderName, SenderAvatar, Content, ClientID
//   - MESSAGE: Room (may be empty for direct rooms), Sender*, Content, CreatedAt, ClientID
//   - ROOM_CREATED: Room, RoomKind, Participants, Content (display name)
//   - ROOM_REMOVED: Room
type Event struct {
	Type         EventType
	Room         string
	SenderID     string
	SenderName   string
	SenderAvatar string
	Content      string
	CreatedAt    time.Time
	ClientID     string
	RoomKind     int
	Participants []string
}

// Field numbers of the protobuf encoding.
const (
	fieldType         protowire.Number = 1
	fieldRoom         protowire.Number = 2
	fieldSenderID     protowire.Number = 3
	fieldSenderName   protowire.Number = 4
	fieldSenderAvatar protowire.Number = 5
	fieldContent      protowire.Number = 6
	fieldCreatedAt    protowire.Number = 7
	fieldClientID     protowire.Number = 8
	fieldRoomKind     protowire.Number = 9
	fieldParticipants protowire.Number = 10
)

var errUnknownType = errors.New("unknown event type")

// Encode encodes the event into protobuf bytes
func (e *Event) Encode() ([]byte, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("failed to encode event: %w %d", errUnknownType, e.Type)
	}

	b := make([]byte, 0, 64+len(e.Content))
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	b = appendString(b, fieldRoom, e.Room)
	b = appendString(b, fieldSenderID, e.SenderID)
	b = appendString(b, fieldSenderName, e.SenderName)
	b = appendString(b, fieldSenderAvatar, e.SenderAvatar)
	b = appendString(b, fieldContent, e.Content)
	if !e.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.CreatedAt.UnixMilli()))
	}
	b = appendString(b, fieldClientID, e.ClientID)
	if e.RoomKind != 0 {
		b = protowire.AppendTag(b, fieldRoomKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.RoomKind))
	}
	for _, p := range e.Participants {
		b = protowire.AppendTag(b, fieldParticipants, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	return b, nil
}

// Decode decodes protobuf bytes into the event.
// Unknown fields are skipped. An unknown type value is kept as is so the
// receiver can decide to ignore the frame.
func (e *Event) Decode(data []byte) error {
	*e = Event{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode event: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("failed to decode event field %d: %w", num, protowire.ParseError(m))
			}
			e.setVarint(num, v)
			n = m
		case typ == protowire.BytesType && isStringField(num):
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return fmt.Errorf("failed to decode event field %d: %w", num, protowire.ParseError(m))
			}
			e.setString(num, s)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to skip event field %d: %w", num, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	return nil
}

func (e *Event) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldType:
		e.Type = EventType(v)
	case fieldCreatedAt:
		e.CreatedAt = time.UnixMilli(protowire.DecodeZigZag(v))
	case fieldRoomKind:
		e.RoomKind = int(v)
	}
}

func (e *Event) setString(num protowire.Number, s string) {
	switch num {
	case fieldRoom:
		e.Room = s
	case fieldSenderID:
		e.SenderID = s
	case fieldSenderName:
		e.SenderName = s
	case fieldSenderAvatar:
		e.SenderAvatar = s
	case fieldContent:
		e.Content = s
	case fieldClientID:
		e.ClientID = s
	case fieldParticipants:
		e.Participants = append(e.Participants, s)
	}
}

func isVarintField(num protowire.Number) bool {
	return num == fieldType || num == fieldCreatedAt || num == fieldRoomKind
}

func isStringField(num protowire.Number) bool {
	switch num {
	case fieldRoom, fieldSenderID, fieldSenderName, fieldSenderAvatar,
		fieldContent, fieldClientID, fieldParticipants:
		return true
	}
	return false
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
