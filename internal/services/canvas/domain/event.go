package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/pixelwall/internal/platform/codec"
	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	KindPixel    EventKind = "pixel"
	KindSession  EventKind = "session"
	KindSnapshot EventKind = "snapshot"
)

// PlacePixel asks for one pixel placement.
type PlacePixel struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Color     string `json:"color"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
	Source    string `json:"source"`
}

// SessionAction names a session state machine operation.
type SessionAction string

const (
	ActionStart  SessionAction = "start"
	ActionPause  SessionAction = "pause"
	ActionResume SessionAction = "resume"
	ActionReset  SessionAction = "reset"
	ActionEnd    SessionAction = "end"
	ActionStatus SessionAction = "status"
)

// SessionCommand asks for one session transition or a status read.
type SessionCommand struct {
	Action SessionAction `json:"action"`
	// Width and Height apply to start; zero means the default.
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	CallerID string `json:"callerId,omitempty"`
}

// SnapshotRequest asks for a snapshot render. Zero dimensions mean the
// current session's dimensions.
type SnapshotRequest struct {
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Event is the closed union of canvas work items. Exactly one payload field
// matches Kind.
type Event struct {
	ID          string
	Kind        EventKind
	ReplyHandle string

	Pixel    *PlacePixel
	Session  *SessionCommand
	Snapshot *SnapshotRequest
}

// Validate checks that the payload matches the kind.
func (e Event) Validate() error {
	set := 0
	for _, present := range []bool{e.Pixel != nil, e.Session != nil, e.Snapshot != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("event must carry exactly one payload, got %d", set)
	}
	switch e.Kind {
	case KindPixel:
		if e.Pixel == nil {
			return errors.New("pixel event is missing its payload")
		}
	case KindSession:
		if e.Session == nil {
			return errors.New("session event is missing its payload")
		}
	case KindSnapshot:
		if e.Snapshot == nil {
			return errors.New("snapshot event is missing its payload")
		}
	default:
		return &UnknownEventTypeError{Kind: string(e.Kind)}
	}
	return nil
}

// EncodeEvent converts an Event into a queue envelope with a CBOR payload.
func EncodeEvent(evt Event) (storage.QueuedEvent, error) {
	if err := evt.Validate(); err != nil {
		return storage.QueuedEvent{}, err
	}
	var payload any
	switch evt.Kind {
	case KindPixel:
		payload = evt.Pixel
	case KindSession:
		payload = evt.Session
	case KindSnapshot:
		payload = evt.Snapshot
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return storage.QueuedEvent{}, fmt.Errorf("encode %s payload: %w", evt.Kind, err)
	}
	return storage.QueuedEvent{
		ID:          evt.ID,
		Kind:        string(evt.Kind),
		Payload:     data,
		ReplyHandle: evt.ReplyHandle,
	}, nil
}

// DecodeEvent rebuilds an Event from a queue envelope. Unknown kinds and
// undecodable payloads are permanent failures.
func DecodeEvent(queued storage.QueuedEvent) (Event, error) {
	evt := Event{
		ID:          queued.ID,
		Kind:        EventKind(queued.Kind),
		ReplyHandle: queued.ReplyHandle,
	}
	var err error
	switch evt.Kind {
	case KindPixel:
		evt.Pixel = &PlacePixel{}
		err = codec.Unmarshal(queued.Payload, evt.Pixel)
	case KindSession:
		evt.Session = &SessionCommand{}
		err = codec.Unmarshal(queued.Payload, evt.Session)
	case KindSnapshot:
		evt.Snapshot = &SnapshotRequest{}
		err = codec.Unmarshal(queued.Payload, evt.Snapshot)
	default:
		return Event{}, Permanent(&UnknownEventTypeError{Kind: queued.Kind})
	}
	if err != nil {
		return Event{}, Permanent(fmt.Errorf("decode %s payload: %w", evt.Kind, err))
	}
	return evt, nil
}

type wireEvent struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	ReplyHandle string          `json:"replyHandle,omitempty"`
}

// ParseEventJSON parses the transport-neutral inbound schema
// {"type": "pixel"|"session"|"snapshot", "payload": {...}, "replyHandle": "..."}.
func ParseEventJSON(data []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	evt := Event{
		Kind:        EventKind(strings.ToLower(strings.TrimSpace(wire.Type))),
		ReplyHandle: strings.TrimSpace(wire.ReplyHandle),
	}
	if len(wire.Payload) == 0 {
		wire.Payload = json.RawMessage("{}")
	}
	var err error
	switch evt.Kind {
	case KindPixel:
		evt.Pixel = &PlacePixel{}
		err = json.Unmarshal(wire.Payload, evt.Pixel)
	case KindSession:
		evt.Session = &SessionCommand{}
		err = json.Unmarshal(wire.Payload, evt.Session)
	case KindSnapshot:
		evt.Snapshot = &SnapshotRequest{}
		err = json.Unmarshal(wire.Payload, evt.Snapshot)
	default:
		return Event{}, &UnknownEventTypeError{Kind: wire.Type}
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", evt.Kind, err)
	}
	return evt, nil
}
