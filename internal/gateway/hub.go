// Package gateway delivers messages and presence updates to live websocket
// connections.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jobchat/internal/config"
	"github.com/zulandar/jobchat/internal/models"
	"github.com/zulandar/jobchat/internal/presence"
)

// Initiator finds or creates the conversation marker for a pair of users.
// *messaging.Store satisfies it.
type Initiator interface {
	Initiate(ctx context.Context, a, b string) (*models.Message, bool, error)
}

// HubOpts holds parameters for creating a Hub.
type HubOpts struct {
	Store           Initiator
	SendBuffer      int           // per-connection outbound queue, default 256
	MaxMessageBytes int64         // inbound frame limit, default 8192
	PongWait        time.Duration // default 60s
	WriteWait       time.Duration // default 10s
	PresenceResync  string        // optional cron expression for periodic updateOnlineUsers
	AllowedOrigins  []string      // websocket origins; empty allows any
	Logger          *logrus.Entry // defaults to the logrus standard logger
}

// recentDeliveries bounds how many message ids the hub remembers to avoid
// pushing the same message to the same connection twice.
const recentDeliveries = 1024

type inbound struct {
	client *Client
	event  Event
}

// Hub owns the presence registry and every live connection. All registry
// reads and writes happen on the goroutine running Run.
type Hub struct {
	opts     HubOpts
	store    Initiator
	log      *logrus.Entry
	schedule cron.Schedule

	registry *presence.Registry[*Client]
	clients  map[*Client]struct{}

	delivered    map[uint]*Client
	deliveredLog []uint
	evictions    []*Client

	inbound chan inbound
	ops     chan func(ctx context.Context)
	done    chan struct{}
	running atomic.Bool
}

// NewHub creates a Hub. Run must be called to start processing events.
func NewHub(opts HubOpts) (*Hub, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("gateway: store is required")
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 8192
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	h := &Hub{
		opts:      opts,
		store:     opts.Store,
		log:       log.WithField("component", "gateway"),
		registry:  presence.New[*Client](),
		clients:   make(map[*Client]struct{}),
		delivered: make(map[uint]*Client),
		inbound:   make(chan inbound, 256),
		ops:       make(chan func(ctx context.Context), 64),
		done:      make(chan struct{}),
	}
	if opts.PresenceResync != "" {
		sched, err := config.CronParser.Parse(opts.PresenceResync)
		if err != nil {
			return nil, fmt.Errorf("gateway: presence resync: %w", err)
		}
		h.schedule = sched
	}
	return h, nil
}

// Run processes events until ctx is cancelled, then closes every
// connection. It may be called only once.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("gateway: hub already running")
	}
	defer close(h.done)

	var resync <-chan time.Time
	var timer *time.Timer
	if h.schedule != nil {
		timer = time.NewTimer(time.Until(h.schedule.Next(time.Now())))
		defer timer.Stop()
		resync = timer.C
	}

	h.log.Info("gateway: hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.log.Info("gateway: hub stopped")
			return nil

		case in := <-h.inbound:
			h.handle(ctx, in.client, in.event)

		case op := <-h.ops:
			op(ctx)

		case <-resync:
			h.broadcastPresence()
			timer.Reset(time.Until(h.schedule.Next(time.Now())))
		}
		h.flushEvictions()
	}
}

// Submit queues an inbound event from c. It reports false once the hub has stopped.
func (h *Hub) Submit(c *Client, ev Event) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.inbound <- inbound{client: c, event: ev}:
		return true
	case <-h.done:
		return false
	}
}

// enqueue schedules fn on the hub loop without waiting for it to run.
func (h *Hub) enqueue(ctx context.Context, fn func(ctx context.Context)) bool {
	select {
	case h.ops <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

// Deliver pushes an already persisted message to its receiver if the
// receiver is online. It never persists anything.
func (h *Hub) Deliver(ctx context.Context, msg models.Message) {
	h.enqueue(ctx, func(context.Context) {
		h.pushMessage(msg)
	})
}

// Initiated pushes a conversation marker to both of its parties.
func (h *Hub) Initiated(ctx context.Context, msg models.Message) {
	h.enqueue(ctx, func(context.Context) {
		h.pushInitiated(msg)
	})
}

// Online returns the ids of every registered user, sorted.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	result := make(chan []string, 1)
	if !h.enqueue(ctx, func(context.Context) { result <- h.registry.Snapshot() }) {
		return nil, errors.New("gateway: hub not running")
	}
	select {
	case users := <-result:
		return users, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errors.New("gateway: hub not running")
	}
}

// handle is the per-connection state machine.
func (h *Hub) handle(ctx context.Context, c *Client, ev Event) {
	if c.state == StateClosed {
		return
	}

	switch e := ev.(type) {
	case connectEvent:
		h.clients[c] = struct{}{}
		c.logger().Debug("gateway: connected")

	case RegisterEvent:
		h.register(c, e)

	case PresenceRequestEvent:
		h.sendEvent(c, EventUpdateOnlineUsers, h.registry.Snapshot())

	case InitiateEvent:
		h.initiate(ctx, c, e)

	case SendMessageEvent:
		h.relay(c, e)

	case DisconnectEvent:
		h.disconnect(c)

	case invalidEvent:
		c.logger().WithField("error", e.reason).Warn("gateway: dropped malformed event")
		h.reject(c, e.name, e.reason)

	default:
		h.reject(c, ev.eventName(), "unsupported event")
	}
}

func (h *Hub) register(c *Client, e RegisterEvent) {
	if e.UserID == "" {
		h.reject(c, EventRegister, "userId is required")
		return
	}
	if c.identity != "" && e.UserID != c.identity {
		h.reject(c, EventRegister, "userId does not match the authenticated user")
		return
	}

	// Re-registering under a different id releases the old one first.
	if c.state == StateRegistered && c.user != e.UserID {
		h.registry.RemoveByConnection(c)
	}
	prev, replaced := h.registry.Register(e.UserID, c)
	if replaced && prev != c {
		prev.logger().Info("gateway: superseded by newer connection")
		// The old connection can no longer be looked up; it keeps running
		// in Connected state so it still receives broadcasts.
		prev.state = StateConnected
		prev.user = ""
	}

	h.clients[c] = struct{}{}
	c.user = e.UserID
	c.state = StateRegistered
	c.logger().Info("gateway: registered")
	h.broadcastPresence()
}

func (h *Hub) initiate(ctx context.Context, c *Client, e InitiateEvent) {
	if c.state != StateRegistered {
		h.reject(c, EventInitiate, "register first")
		return
	}
	sender := e.SenderID
	if sender == "" {
		sender = c.user
	}
	if sender != c.user {
		h.reject(c, EventInitiate, "senderId does not match the registered user")
		return
	}
	if e.ReceiverID == "" {
		h.reject(c, EventInitiate, "receiverId is required")
		return
	}

	msg, created, err := h.store.Initiate(ctx, sender, e.ReceiverID)
	if err != nil {
		c.logger().WithFields(logrus.Fields{
			"receiver": e.ReceiverID,
			"error":    err,
		}).Error("gateway: initiate conversation failed")
		return
	}
	c.logger().WithFields(logrus.Fields{
		"receiver": e.ReceiverID,
		"created":  created,
		"message":  msg.ID,
	}).Debug("gateway: conversation initiated")
	h.pushInitiated(*msg)
}

// relay pushes a message the REST facade already stored. Nothing is
// persisted here; an offline receiver simply misses the push.
func (h *Hub) relay(c *Client, e SendMessageEvent) {
	if c.state != StateRegistered {
		h.reject(c, EventSendMessage, "register first")
		return
	}
	msg := e.Message
	if msg.SenderID != c.user {
		h.reject(c, EventSendMessage, "senderId does not match the registered user")
		return
	}
	if msg.ID == 0 || msg.ReceiverID == "" {
		h.reject(c, EventSendMessage, "message must be stored before it is sent")
		return
	}
	h.pushMessage(msg)
}

func (h *Hub) disconnect(c *Client) {
	c.state = StateClosed
	delete(h.clients, c)
	user, removed := h.registry.RemoveByConnection(c)
	close(c.send)
	c.logger().WithField("registered", removed).Info("gateway: disconnected")
	if removed {
		h.log.WithField("user", user).Debug("gateway: user offline")
		h.broadcastPresence()
	}
}

func (h *Hub) pushMessage(msg models.Message) {
	c, ok := h.registry.Lookup(msg.ReceiverID)
	if !ok {
		h.log.WithFields(logrus.Fields{
			"receiver": msg.ReceiverID,
			"message":  msg.ID,
		}).Debug("gateway: receiver offline, push skipped")
		return
	}
	if msg.ID != 0 && h.alreadyDelivered(msg.ID, c) {
		return
	}
	h.sendEvent(c, EventReceiveMessage, msg)
}

func (h *Hub) pushInitiated(msg models.Message) {
	for _, user := range []string{msg.SenderID, msg.ReceiverID} {
		if c, ok := h.registry.Lookup(user); ok {
			h.sendEvent(c, EventChatInitiated, msg)
		}
	}
}

// alreadyDelivered records that msg went to c and reports whether it had before.
func (h *Hub) alreadyDelivered(id uint, c *Client) bool {
	if prev, ok := h.delivered[id]; ok && prev == c {
		return true
	}
	if _, ok := h.delivered[id]; !ok {
		h.deliveredLog = append(h.deliveredLog, id)
		if len(h.deliveredLog) > recentDeliveries {
			delete(h.delivered, h.deliveredLog[0])
			h.deliveredLog = h.deliveredLog[1:]
		}
	}
	h.delivered[id] = c
	return false
}

func (h *Hub) broadcastPresence() {
	frame, err := encodeEvent(EventUpdateOnlineUsers, h.registry.Snapshot())
	if err != nil {
		h.log.WithField("error", err).Error("gateway: encode presence")
		return
	}
	for c := range h.clients {
		h.sendFrame(c, frame)
	}
}

func (h *Hub) reject(c *Client, event, reason string) {
	c.logger().WithFields(logrus.Fields{
		"event": event,
		"error": reason,
	}).Debug("gateway: event rejected")
	h.sendEvent(c, EventError, errorPayload{Event: event, Error: reason})
}

func (h *Hub) sendEvent(c *Client, name string, data any) {
	frame, err := encodeEvent(name, data)
	if err != nil {
		h.log.WithField("error", err).Error("gateway: encode event")
		return
	}
	h.sendFrame(c, frame)
}

// sendFrame queues frame for c without blocking. A client whose queue is
// full is evicted once the current event finishes.
func (h *Hub) sendFrame(c *Client, frame []byte) {
	if c.state == StateClosed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.logger().Warn("gateway: send buffer full, closing connection")
		h.evictions = append(h.evictions, c)
	}
}

func (h *Hub) flushEvictions() {
	for len(h.evictions) > 0 {
		c := h.evictions[0]
		h.evictions = h.evictions[1:]
		if c.state == StateClosed {
			continue
		}
		h.disconnect(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		c.state = StateClosed
		h.registry.RemoveByConnection(c)
		close(c.send)
	}
	h.clients = make(map[*Client]struct{})
}
