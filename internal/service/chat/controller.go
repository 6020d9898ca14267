package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/analysis/intent"
	"github.com/zhouzirui/skychat/backend/internal/model/chat"
	"github.com/zhouzirui/skychat/backend/internal/service/weather"
)

const (
	// Greeting is shown above an empty transcript.
	Greeting = "Hi, how can I help you?"
	// ChatFallbackReply replaces the bot text when the generative call fails.
	ChatFallbackReply = "Sorry, something went wrong. Please try again."
)

var (
	ErrEmptyDraft       = errors.New("draft is empty")
	ErrSendInFlight     = errors.New("a message is already being sent")
	ErrLocationRequired = intent.ErrLocationRequired

	errReplyUnavailable = errors.New("ai service unavailable")
)

// WeatherLooker answers weather questions. It never fails; failures come
// back as a displayable sentence.
type WeatherLooker interface {
	Lookup(ctx context.Context, location string) string
}

// ReplyGenerator answers general chat prompts.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, prompt string) (string, error)
}

// Listener receives a snapshot after every state or transcript change.
type Listener func(chat.Snapshot)

// Controller owns the draft and transcript of one session and runs sends
// one at a time.
type Controller struct {
	sessionID string
	weather   WeatherLooker
	replies   ReplyGenerator
	logger    *zap.Logger
	now       func() time.Time

	deliverMu sync.Mutex

	mu           sync.Mutex
	state        chat.State
	draft        string
	lastReply    string
	entries      []chat.Entry
	lastActive   time.Time
	listeners    map[int]Listener
	nextListener int
}

// NewController creates an idle controller. replies may be nil when no model
// is configured; chat messages then get ChatFallbackReply.
func NewController(sessionID string, weather WeatherLooker, replies ReplyGenerator, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		sessionID: sessionID,
		weather:   weather,
		replies:   replies,
		logger:    logger.With(zap.String("session", sessionID)),
		now:       time.Now,
		state:     chat.StateIdle,
		entries:   make([]chat.Entry, 0, 16),
		listeners: make(map[int]Listener),
	}
	c.lastActive = c.now()
	return c
}

// SessionID returns the owning session identifier.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// SetDraft replaces the uncommitted input.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.lastActive = c.now()
	c.mu.Unlock()
}

// SendText sets the draft to text and sends it. The draft write and the
// transition to sending happen under one lock, so the entry always carries text.
func (c *Controller) SendText(ctx context.Context, text string) (chat.Entry, error) {
	return c.send(ctx, &text)
}

// Send submits the current draft. It returns ErrEmptyDraft for blank input,
// ErrSendInFlight while another send is outstanding and ErrLocationRequired
// for a weather question without a place; none of those touch the transcript.
// Otherwise exactly one entry is appended, even when the model call fails.
func (c *Controller) Send(ctx context.Context) (chat.Entry, error) {
	return c.send(ctx, nil)
}

// send replaces the draft with text when it is non-nil, then submits it.
func (c *Controller) send(ctx context.Context, text *string) (chat.Entry, error) {
	c.mu.Lock()
	if c.state == chat.StateSending {
		c.mu.Unlock()
		return chat.Entry{}, ErrSendInFlight
	}
	if text != nil {
		c.draft = *text
		c.lastActive = c.now()
	}

	message := c.draft
	if strings.TrimSpace(message) == "" {
		c.mu.Unlock()
		return chat.Entry{}, ErrEmptyDraft
	}

	route := intent.Classify(message)
	var location string
	if route == intent.RouteWeather {
		loc, err := intent.ExtractLocation(message)
		if err != nil {
			c.mu.Unlock()
			return chat.Entry{}, err
		}
		location = loc
	}

	c.state = chat.StateSending
	c.lastActive = c.now()
	c.mu.Unlock()
	c.notify()

	reply := c.dispatch(ctx, route, message, location)

	entry := chat.Entry{
		ID:        uuid.NewString(),
		User:      message,
		Bot:       reply,
		Route:     route,
		CreatedAt: c.now().UTC(),
	}

	c.mu.Lock()
	c.entries = append(c.entries, entry)
	if c.draft == message {
		c.draft = ""
	}
	c.lastReply = reply
	c.state = chat.StateIdle
	c.lastActive = c.now()
	c.mu.Unlock()
	c.notify()

	c.logger.Info("message answered", zap.String("route", string(route)), zap.String("entry", entry.ID))
	return entry, nil
}

func (c *Controller) dispatch(ctx context.Context, route intent.Route, message, location string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("caller panicked", zap.String("route", string(route)), zap.Any("panic", r))
			reply = fallbackFor(route, location)
		}
	}()

	if route == intent.RouteWeather {
		if c.weather == nil {
			return weather.Fallback(location)
		}
		return c.weather.Lookup(ctx, location)
	}

	if c.replies == nil {
		c.logger.Warn("chat reply failed", zap.Error(errReplyUnavailable))
		return ChatFallbackReply
	}

	text, err := c.replies.GenerateReply(ctx, message)
	if err != nil {
		c.logger.Warn("chat reply failed", zap.Error(err))
		return ChatFallbackReply
	}
	return text
}

func fallbackFor(route intent.Route, location string) string {
	if route == intent.RouteWeather {
		return weather.Fallback(location)
	}
	return ChatFallbackReply
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() chat.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() chat.Snapshot {
	entries := make([]chat.Entry, len(c.entries))
	copy(entries, c.entries)
	return chat.Snapshot{
		SessionID: c.sessionID,
		State:     c.state,
		Draft:     c.draft,
		LastReply: c.lastReply,
		Entries:   entries,
	}
}

// State reports whether a send is outstanding.
func (c *Controller) State() chat.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActive is the time of the last draft update or send.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Subscribe registers fn for change notifications. The returned func removes it.
// fn must not call Send or SendText on the same controller.
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// notify delivers the current state to every listener. Deliveries are
// serialized and each one snapshots the state at delivery time, so the last
// call a listener sees always reflects the newest transcript.
func (c *Controller) notify() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot := c.snapshotLocked()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
