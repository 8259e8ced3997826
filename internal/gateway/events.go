package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zulandar/jobchat/internal/models"
)

// Inbound event names.
const (
	EventRegister        = "register"
	EventInitiate        = "initiateConversation"
	EventSendMessage     = "sendMessage"
	EventRequestPresence = "requestPresenceSnapshot"
	EventDisconnect      = "disconnect"
)

// Outbound event names.
const (
	EventUpdateOnlineUsers = "updateOnlineUsers"
	EventChatInitiated     = "chatInitiated"
	EventReceiveMessage    = "receiveMessage"
	EventError             = "error"
)

// Event is one inbound gateway event. The set of implementations is closed;
// the hub dispatches on the concrete type.
type Event interface {
	eventName() string
}

// RegisterEvent binds the connection to a user.
type RegisterEvent struct {
	UserID string `json:"userId"`
}

// InitiateEvent asks for the conversation marker between two users.
type InitiateEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// SendMessageEvent carries an already persisted message to push to its receiver.
type SendMessageEvent struct {
	Message models.Message
}

// PresenceRequestEvent asks for the current online-user snapshot.
type PresenceRequestEvent struct{}

// DisconnectEvent ends the connection.
type DisconnectEvent struct{}

// connectEvent attaches a freshly upgraded connection to the hub.
type connectEvent struct{}

// invalidEvent reports an inbound frame that could not be decoded.
type invalidEvent struct {
	name   string
	reason string
}

func (RegisterEvent) eventName() string        { return EventRegister }
func (InitiateEvent) eventName() string        { return EventInitiate }
func (SendMessageEvent) eventName() string     { return EventSendMessage }
func (PresenceRequestEvent) eventName() string { return EventRequestPresence }
func (DisconnectEvent) eventName() string      { return EventDisconnect }
func (connectEvent) eventName() string         { return "connect" }
func (e invalidEvent) eventName() string       { return e.name }

// envelope is the wire frame in both directions: {"event": name, "data": payload}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// errorPayload is the data of an outbound "error" event.
type errorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// DecodeEvent parses one inbound frame.
func DecodeEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gateway: decode frame: %w", err)
	}

	switch env.Event {
	case EventRegister:
		// Clients may send the bare user id as data.
		var id string
		if isJSONString(env.Data) {
			if err := json.Unmarshal(env.Data, &id); err != nil {
				return nil, fmt.Errorf("gateway: decode %s: %w", env.Event, err)
			}
			return RegisterEvent{UserID: id}, nil
		}
		var e RegisterEvent
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case EventInitiate:
		var e InitiateEvent
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		return e, nil

	case EventSendMessage:
		var e SendMessageEvent
		if err := decodeData(env, &e.Message); err != nil {
			return nil, err
		}
		return e, nil

	case EventRequestPresence:
		return PresenceRequestEvent{}, nil

	case EventDisconnect:
		return DisconnectEvent{}, nil

	case "":
		return nil, fmt.Errorf("gateway: frame has no event name")

	default:
		return nil, fmt.Errorf("gateway: unknown event %q", env.Event)
	}
}

func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return fmt.Errorf("gateway: %s: data is required", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("gateway: decode %s: %w", env.Event, err)
	}
	return nil
}

func isJSONString(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// encodeEvent builds an outbound frame.
func encodeEvent(name string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s: %w", name, err)
	}
	return json.Marshal(envelope{Event: name, Data: payload})
}

// eventNameOf peeks at a frame's event name for error reporting.
func eventNameOf(raw []byte) string {
	var env struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(raw, &env)
	return env.Event
}
