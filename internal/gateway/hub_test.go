package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/jobchat/internal/db"
	"github.com/zulandar/jobchat/internal/messaging"
	"github.com/zulandar/jobchat/internal/models"
)

const frameTimeout = 2 * time.Second

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newStore(t *testing.T) *messaging.Store {
	t.Helper()
	gormDB, err := db.OpenMemory()
	require.NoError(t, err)
	store, err := messaging.NewStore(gormDB, messaging.StoreOpts{})
	require.NoError(t, err)
	return store
}

func startHub(t *testing.T, store Initiator) *Hub {
	t.Helper()
	h, err := NewHub(HubOpts{Store: store, SendBuffer: 16})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return h
}

// attach creates a connection with no socket behind it and hands it to the hub.
func attach(t *testing.T, h *Hub, identity string) *Client {
	t.Helper()
	c := newClient(h, nil, identity)
	require.True(t, h.Submit(c, connectEvent{}))
	return c
}

func next(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(frameTimeout):
		t.Fatal("timed out waiting for frame")
	}
	return frame{}
}

func expectEvent(t *testing.T, c *Client, name string, v any) {
	t.Helper()
	f := next(t, c)
	require.Equal(t, name, f.Event, "data: %s", f.Data)
	if v != nil {
		require.NoError(t, json.Unmarshal(f.Data, v))
	}
}

func expectOnline(t *testing.T, c *Client, want ...string) {
	t.Helper()
	var users []string
	expectEvent(t, c, EventUpdateOnlineUsers, &users)
	if want == nil {
		want = []string{}
	}
	assert.Equal(t, want, users)
}

// expectQuiet asserts c received nothing before its own presence request
// was answered. The inbound queue is FIFO, so everything submitted earlier
// has been handled by then.
func expectQuiet(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	require.True(t, h.Submit(c, PresenceRequestEvent{}))
	f := next(t, c)
	assert.Equal(t, EventUpdateOnlineUsers, f.Event, "unexpected frame: %s", f.Data)
}

func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case _, ok := <-c.send:
		assert.False(t, ok, "expected send channel to be closed")
	case <-time.After(frameTimeout):
		t.Fatal("send channel still open")
	}
}

func register(t *testing.T, h *Hub, c *Client, user string) {
	t.Helper()
	require.True(t, h.Submit(c, RegisterEvent{UserID: user}))
}

type failingInitiator struct{}

func (failingInitiator) Initiate(context.Context, string, string) (*models.Message, bool, error) {
	return nil, false, errors.New("database is down")
}

func TestNewHub_RequiresStore(t *testing.T) {
	_, err := NewHub(HubOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestNewHub_Defaults(t *testing.T) {
	h, err := NewHub(HubOpts{Store: failingInitiator{}})
	require.NoError(t, err)
	assert.Equal(t, 256, h.opts.SendBuffer)
	assert.Equal(t, int64(8192), h.opts.MaxMessageBytes)
	assert.Equal(t, 60*time.Second, h.opts.PongWait)
	assert.Equal(t, 10*time.Second, h.opts.WriteWait)
	assert.Nil(t, h.schedule)
}

func TestNewHub_PresenceResync(t *testing.T) {
	h, err := NewHub(HubOpts{Store: failingInitiator{}, PresenceResync: "*/5 * * * *"})
	require.NoError(t, err)
	assert.NotNil(t, h.schedule)

	_, err = NewHub(HubOpts{Store: failingInitiator{}, PresenceResync: "every now and then"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence resync")
}

func TestHub_RunTwice(t *testing.T) {
	h := startHub(t, failingInitiator{})
	// Online goes through the loop, so Run is active once it answers.
	_, err := h.Online(context.Background())
	require.NoError(t, err)

	err = h.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestHub_RegisterBroadcastsToEveryConnection(t *testing.T) {
	h := startHub(t, failingInitiator{})
	watcher := attach(t, h, "")
	c := attach(t, h, "")

	register(t, h, c, "u1")
	expectOnline(t, c, "u1")
	expectOnline(t, watcher, "u1")

	online, err := h.Online(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, online)
}

func TestHub_PresenceRequestRepliesToRequesterOnly(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	b := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")
	expectOnline(t, b, "u1")

	require.True(t, h.Submit(b, PresenceRequestEvent{}))
	expectOnline(t, b, "u1")
	expectQuiet(t, h, a)
}

func TestHub_LastRegistrationWins(t *testing.T) {
	h := startHub(t, failingInitiator{})
	first := attach(t, h, "")
	second := attach(t, h, "")
	other := attach(t, h, "")

	register(t, h, first, "u1")
	expectOnline(t, first, "u1")
	expectOnline(t, second, "u1")
	expectOnline(t, other, "u1")

	register(t, h, second, "u1")
	expectOnline(t, first, "u1")
	expectOnline(t, second, "u1")
	expectOnline(t, other, "u1")

	h.Deliver(context.Background(), models.Message{ID: 1, SenderID: "u2", ReceiverID: "u1", Body: "hello"})
	var got models.Message
	expectEvent(t, second, EventReceiveMessage, &got)
	assert.Equal(t, "hello", got.Body)
	expectQuiet(t, h, first)

	// The superseded connection going away must not take u1 offline.
	require.True(t, h.Submit(first, DisconnectEvent{}))
	expectClosed(t, first)
	expectQuiet(t, h, other)

	online, err := h.Online(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, online)
}

func TestHub_ReregisterUnderNewUserReleasesOld(t *testing.T) {
	h := startHub(t, failingInitiator{})
	c := attach(t, h, "")

	register(t, h, c, "u1")
	expectOnline(t, c, "u1")
	register(t, h, c, "u2")
	expectOnline(t, c, "u2")
}

func TestHub_DisconnectRemovesAndBroadcasts(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	b := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")
	expectOnline(t, b, "u1")
	register(t, h, b, "u2")
	expectOnline(t, a, "u1", "u2")
	expectOnline(t, b, "u1", "u2")

	require.True(t, h.Submit(a, DisconnectEvent{}))
	expectClosed(t, a)
	expectOnline(t, b, "u2")

	// A second disconnect for the same connection is a no-op.
	require.True(t, h.Submit(a, DisconnectEvent{}))
	expectQuiet(t, h, b)
}

func TestHub_UnregisteredDisconnectDoesNotBroadcast(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	b := attach(t, h, "")

	require.True(t, h.Submit(a, DisconnectEvent{}))
	expectClosed(t, a)
	expectQuiet(t, h, b)
}

func TestHub_RejectsBeforeRegister(t *testing.T) {
	h := startHub(t, failingInitiator{})
	c := attach(t, h, "")

	tests := []struct {
		name  string
		event Event
	}{
		{"initiate", InitiateEvent{SenderID: "u1", ReceiverID: "u2"}},
		{"send message", SendMessageEvent{Message: models.Message{ID: 1, SenderID: "u1", ReceiverID: "u2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, h.Submit(c, tt.event))
			var p errorPayload
			expectEvent(t, c, EventError, &p)
			assert.Equal(t, tt.event.eventName(), p.Event)
			assert.Equal(t, "register first", p.Error)
		})
	}
}

func TestHub_RegisterValidation(t *testing.T) {
	h := startHub(t, failingInitiator{})

	t.Run("empty user", func(t *testing.T) {
		c := attach(t, h, "")
		register(t, h, c, "")
		var p errorPayload
		expectEvent(t, c, EventError, &p)
		assert.Equal(t, "userId is required", p.Error)
	})

	t.Run("identity mismatch", func(t *testing.T) {
		c := attach(t, h, "u1")
		register(t, h, c, "u2")
		var p errorPayload
		expectEvent(t, c, EventError, &p)
		assert.Contains(t, p.Error, "does not match")

		register(t, h, c, "u1")
		expectOnline(t, c, "u1")
	})
}

func TestHub_InitiatePushesToBothParties(t *testing.T) {
	store := newStore(t)
	h := startHub(t, store)
	a := attach(t, h, "")
	b := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")
	expectOnline(t, b, "u1")
	register(t, h, b, "u2")
	expectOnline(t, a, "u1", "u2")
	expectOnline(t, b, "u1", "u2")

	require.True(t, h.Submit(a, InitiateEvent{SenderID: "u1", ReceiverID: "u2"}))
	var toA, toB models.Message
	expectEvent(t, a, EventChatInitiated, &toA)
	expectEvent(t, b, EventChatInitiated, &toB)
	assert.Equal(t, toA.ID, toB.ID)
	assert.Equal(t, store.SentinelBody(), toA.Body)

	// Sender defaults to the registered user and the marker is reused.
	require.True(t, h.Submit(b, InitiateEvent{ReceiverID: "u1"}))
	var again models.Message
	expectEvent(t, a, EventChatInitiated, &again)
	expectEvent(t, b, EventChatInitiated, nil)
	assert.Equal(t, toA.ID, again.ID)

	history, err := store.History(context.Background(), "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHub_InitiateOfflineReceiver(t *testing.T) {
	store := newStore(t)
	h := startHub(t, store)
	a := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")

	require.True(t, h.Submit(a, InitiateEvent{ReceiverID: "u9"}))
	expectEvent(t, a, EventChatInitiated, nil)

	history, err := store.History(context.Background(), "u1", "u9")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHub_InitiateSpoofedSender(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")

	require.True(t, h.Submit(a, InitiateEvent{SenderID: "u3", ReceiverID: "u2"}))
	var p errorPayload
	expectEvent(t, a, EventError, &p)
	assert.Contains(t, p.Error, "senderId does not match")
}

func TestHub_InitiateStoreFailureIsDropped(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")

	require.True(t, h.Submit(a, InitiateEvent{ReceiverID: "u2"}))
	expectQuiet(t, h, a)
}

func TestHub_SendMessageToOfflineReceiverPersistsNothing(t *testing.T) {
	store := newStore(t)
	h := startHub(t, store)
	a := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")

	msg := models.Message{ID: 7, SenderID: "u1", ReceiverID: "u9", Body: "anyone there?"}
	require.True(t, h.Submit(a, SendMessageEvent{Message: msg}))
	expectQuiet(t, h, a)

	history, err := store.History(context.Background(), "u1", "u9")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHub_SendMessageValidation(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")

	tests := []struct {
		name string
		msg  models.Message
		want string
	}{
		{"spoofed sender", models.Message{ID: 1, SenderID: "u2", ReceiverID: "u3"}, "senderId does not match"},
		{"not stored", models.Message{SenderID: "u1", ReceiverID: "u3"}, "must be stored"},
		{"no receiver", models.Message{ID: 2, SenderID: "u1"}, "must be stored"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, h.Submit(a, SendMessageEvent{Message: tt.msg}))
			var p errorPayload
			expectEvent(t, a, EventError, &p)
			assert.Equal(t, EventSendMessage, p.Event)
			assert.Contains(t, p.Error, tt.want)
		})
	}
}

func TestHub_MessagePushedExactlyOnce(t *testing.T) {
	h := startHub(t, failingInitiator{})
	a := attach(t, h, "")
	b := attach(t, h, "")
	register(t, h, a, "u1")
	expectOnline(t, a, "u1")
	expectOnline(t, b, "u1")
	register(t, h, b, "u2")
	expectOnline(t, a, "u1", "u2")
	expectOnline(t, b, "u1", "u2")

	msg := models.Message{ID: 5, SenderID: "u1", ReceiverID: "u2", Body: "hi"}
	// Both the REST path and the sender's socket push the same message.
	h.Deliver(context.Background(), msg)
	require.True(t, h.Submit(a, SendMessageEvent{Message: msg}))

	var got models.Message
	expectEvent(t, b, EventReceiveMessage, &got)
	assert.Equal(t, uint(5), got.ID)
	// Online runs behind Deliver on the same queue.
	_, err := h.Online(context.Background())
	require.NoError(t, err)
	expectQuiet(t, h, a)
	expectQuiet(t, h, b)
}

func TestHub_ReconnectedReceiverGetsMessageAgain(t *testing.T) {
	h := startHub(t, failingInitiator{})
	old := attach(t, h, "")
	register(t, h, old, "u2")
	expectOnline(t, old, "u2")

	msg := models.Message{ID: 9, SenderID: "u1", ReceiverID: "u2", Body: "hi"}
	h.Deliver(context.Background(), msg)
	expectEvent(t, old, EventReceiveMessage, nil)

	fresh := attach(t, h, "")
	register(t, h, fresh, "u2")
	expectOnline(t, old, "u2")
	expectOnline(t, fresh, "u2")

	h.Deliver(context.Background(), msg)
	expectEvent(t, fresh, EventReceiveMessage, nil)
}

func TestHub_InvalidEventRepliesWithError(t *testing.T) {
	h := startHub(t, failingInitiator{})
	c := attach(t, h, "")

	require.True(t, h.Submit(c, invalidEvent{name: "bogus", reason: `gateway: unknown event "bogus"`}))
	var p errorPayload
	expectEvent(t, c, EventError, &p)
	assert.Equal(t, "bogus", p.Event)
	assert.Contains(t, p.Error, "unknown event")
}

func TestHub_SlowConsumerEvicted(t *testing.T) {
	h := startHub(t, failingInitiator{})
	fast := attach(t, h, "")
	register(t, h, fast, "u1")
	expectOnline(t, fast, "u1")

	// An unbuffered queue that nobody reads is full from the start.
	slow := newClient(h, nil, "")
	slow.send = make(chan []byte)
	require.True(t, h.Submit(slow, connectEvent{}))
	register(t, h, slow, "u2")

	expectOnline(t, fast, "u1", "u2")
	expectOnline(t, fast, "u1")
	expectClosed(t, slow)

	online, err := h.Online(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, online)
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	h, err := NewHub(HubOpts{Store: failingInitiator{}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()

	c := attach(t, h, "")
	register(t, h, c, "u1")
	expectOnline(t, c, "u1")

	cancel()
	require.NoError(t, <-errCh)
	expectClosed(t, c)

	_, err = h.Online(context.Background())
	assert.Error(t, err)
}
