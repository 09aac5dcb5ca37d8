package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for _, typ := range []string{"login_success", "refresh_success", "logout"} {
		d.Emit(context.Background(), Event{EventType: typ})
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case e := <-sink.Events():
			got = append(got, e.EventType)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	if got[0] != "login_success" || got[2] != "logout" {
		t.Fatalf("unexpected order: %v", got)
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	select {
	case e := <-sink.Events():
		t.Fatalf("event after close delivered: %v", e)
	default:
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a stalled sink")
	}
	close(sink.release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	if d.Dropped() != 0 || d.Close(context.Background()) != nil {
		t.Fatal("nil dispatcher must be inert")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventID: "e-1", EventType: "role_created", Success: true, Reason: "quarterly review"})

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if got.EventID != "e-1" || got.Reason != "quarterly review" {
		t.Fatalf("unexpected event: %+v", got)
	}
}
