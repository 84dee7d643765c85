package domain

import (
	"errors"
	"testing"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

func TestEncodeDecodeEventPreservesVariant(t *testing.T) {
	tests := []Event{
		{ID: "evt-1", Kind: KindPixel, ReplyHandle: "app/token", Pixel: &PlacePixel{X: -3, Y: 7, Color: "ff0000", OwnerID: "U1", OwnerName: "ana", Source: "chat"}},
		{ID: "evt-2", Kind: KindSession, Session: &SessionCommand{Action: ActionStart, Width: 200, Height: 150, CallerID: "admin"}},
		{ID: "evt-3", Kind: KindSnapshot, Snapshot: &SnapshotRequest{RequestedBy: "admin"}},
	}
	for _, evt := range tests {
		queued, err := EncodeEvent(evt)
		if err != nil {
			t.Fatalf("encode %s: %v", evt.Kind, err)
		}
		if queued.Kind != string(evt.Kind) || queued.ID != evt.ID || queued.ReplyHandle != evt.ReplyHandle {
			t.Fatalf("envelope mismatch: %+v", queued)
		}
		decoded, err := DecodeEvent(queued)
		if err != nil {
			t.Fatalf("decode %s: %v", evt.Kind, err)
		}
		switch evt.Kind {
		case KindPixel:
			if *decoded.Pixel != *evt.Pixel {
				t.Fatalf("pixel payload = %+v, want %+v", *decoded.Pixel, *evt.Pixel)
			}
		case KindSession:
			if *decoded.Session != *evt.Session {
				t.Fatalf("session payload = %+v, want %+v", *decoded.Session, *evt.Session)
			}
		case KindSnapshot:
			if *decoded.Snapshot != *evt.Snapshot {
				t.Fatalf("snapshot payload = %+v, want %+v", *decoded.Snapshot, *evt.Snapshot)
			}
		}
	}
}

func TestDecodeEventRejectsUnknownKind(t *testing.T) {
	_, err := DecodeEvent(storage.QueuedEvent{ID: "e", Kind: "brush"})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var unknown *UnknownEventTypeError
	if !errors.As(err, &unknown) || unknown.Kind != "brush" {
		t.Fatalf("expected UnknownEventTypeError, got %v", err)
	}
}

func TestDecodeEventRejectsGarbagePayload(t *testing.T) {
	_, err := DecodeEvent(storage.QueuedEvent{ID: "e", Kind: "pixel", Payload: []byte{0xff, 0x00}})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}

func TestEncodeEventValidatesPayloadShape(t *testing.T) {
	if _, err := EncodeEvent(Event{Kind: KindPixel}); err == nil {
		t.Fatal("expected missing payload error")
	}
	if _, err := EncodeEvent(Event{Kind: KindPixel, Session: &SessionCommand{}}); err == nil {
		t.Fatal("expected mismatched payload error")
	}
	if _, err := EncodeEvent(Event{Kind: KindPixel, Pixel: &PlacePixel{}, Snapshot: &SnapshotRequest{}}); err == nil {
		t.Fatal("expected multiple payload error")
	}
}

func TestParseEventJSON(t *testing.T) {
	evt, err := ParseEventJSON([]byte(`{"type":"pixel","payload":{"x":5,"y":5,"color":"FF0000","ownerId":"U1"},"replyHandle":"h"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != KindPixel || evt.Pixel.X != 5 || evt.Pixel.OwnerID != "U1" || evt.ReplyHandle != "h" {
		t.Fatalf("unexpected event %+v / %+v", evt, evt.Pixel)
	}

	evt, err = ParseEventJSON([]byte(`{"type":"Snapshot"}`))
	if err != nil {
		t.Fatalf("parse snapshot without payload: %v", err)
	}
	if evt.Kind != KindSnapshot || evt.Snapshot == nil {
		t.Fatalf("unexpected event %+v", evt)
	}

	var unknown *UnknownEventTypeError
	if _, err := ParseEventJSON([]byte(`{"type":"erase"}`)); !errors.As(err, &unknown) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}
