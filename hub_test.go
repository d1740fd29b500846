package main

import (
	"testing"
	"time"
)

func TestHubCommandContextWithoutTimeout(t *testing.T) {
	h := NewHub(nil, nil, nil, 0)
	ctx, cancel := h.commandContext()
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("a zero timeout should leave commands unbounded")
	}
	if ctx.Err() != nil {
		t.Errorf("fresh command context already done: %v", ctx.Err())
	}

	h = NewHub(nil, nil, nil, time.Second)
	ctx, cancel = h.commandContext()
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("a positive timeout should set a deadline")
	}
}

func TestDropClientMarksSeatDisconnected(t *testing.T) {
	store := NewMemoryStore()
	sm, _ := newTestManager(t, store)
	sess := startMatch(t, sm)

	h := NewHub(nil, nil, nil, 0)
	h.Attach(sm, nil)
	c := &Client{hub: h, id: "conn-alice", userID: "alice", send: make(chan []byte, 1)}
	h.SetOnline("alice", c)

	h.dropClient(c)

	waitFor(t, "alice disconnected", func() bool {
		return !storedGame(t, store, sess.ID).Players[0].Connected
	})
	if h.GetOnlineClient("alice") != nil {
		t.Error("dropped client still listed online")
	}
	if !storedGame(t, store, sess.ID).Players[1].Connected {
		t.Error("bob's seat should stay connected")
	}
}
