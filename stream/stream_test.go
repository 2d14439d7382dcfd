package stream

import (
	"testing"
	"time"
)

func TestFormatSSEResponse(t *testing.T) {
	got := formatSSEResponse(Message{Type: "update", Msg: `{"id":"1"}`})
	want := "event: update\ndata: {\"id\":\"1\"}\n\n"
	if got != want {
		t.Errorf("formatSSEResponse = %q; want %q", got, want)
	}
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	c := Subscribe()
	if c == nil {
		t.Fatal("Subscribe() returned nil")
	}
	defer Unsubscribe(c)

	Broadcast(Message{Type: "create", Msg: "x"})
	select {
	case msg := <-c:
		if msg.Type != "create" || msg.Msg != "x" {
			t.Errorf("received %+v; want create/x", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	before := ActiveConnections()
	c := Subscribe()
	if ActiveConnections() != before+1 {
		t.Errorf("ActiveConnections = %d; want %d", ActiveConnections(), before+1)
	}
	Unsubscribe(c)
	if _, ok := <-c; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	Unsubscribe(c) // second call is a no-op
}
