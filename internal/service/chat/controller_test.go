package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/skychat/backend/internal/analysis/intent"
	"github.com/zhouzirui/skychat/backend/internal/config"
	"github.com/zhouzirui/skychat/backend/internal/model/chat"
	"github.com/zhouzirui/skychat/backend/internal/service/weather"
)

type fakeWeather struct {
	mu        sync.Mutex
	locations []string
	reply     func(location string) string
}

func (f *fakeWeather) Lookup(_ context.Context, location string) string {
	f.mu.Lock()
	f.locations = append(f.locations, location)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(location)
	}
	return "sunny in " + location
}

func (f *fakeWeather) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locations...)
}

type fakeReplies struct {
	mu      sync.Mutex
	prompts []string
	err     error
	panicOn string
	started chan struct{}
	release chan struct{}
}

func (f *fakeReplies) GenerateReply(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.panicOn != "" && prompt == f.panicOn {
		panic("model exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	return "echo: " + prompt, nil
}

func (f *fakeReplies) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func newTestController(t *testing.T, w WeatherLooker, r ReplyGenerator) *Controller {
	t.Helper()
	return NewController("session-1", w, r, zaptest.NewLogger(t))
}

func TestSendChatPrompt(t *testing.T) {
	w := &fakeWeather{}
	r := &fakeReplies{}
	c := newTestController(t, w, r)

	c.SetDraft("Tell me a joke")
	entry, err := c.Send(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Tell me a joke"}, r.calls())
	assert.Empty(t, w.calls())
	assert.Equal(t, "Tell me a joke", entry.User)
	assert.Equal(t, "echo: Tell me a joke", entry.Bot)
	assert.Equal(t, intent.RouteChat, entry.Route)
	assert.NotEmpty(t, entry.ID)

	snap := c.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, entry, snap.Entries[0])
	assert.Equal(t, "", snap.Draft)
	assert.Equal(t, chat.StateIdle, snap.State)
	assert.Equal(t, "echo: Tell me a joke", snap.LastReply)
}

func TestSendWeatherPromptAgainstProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "Paris" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Paris","weather":[{"description":"clear sky"}],"main":{"temp":21}}`))
	}))
	defer srv.Close()

	client := weather.NewClient(config.WeatherConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}, zaptest.NewLogger(t))
	r := &fakeReplies{}
	c := newTestController(t, client, r)

	entry, err := c.SendText(context.Background(), "What is the weather in Paris")
	require.NoError(t, err)

	assert.Equal(t, "The current weather in Paris is clear sky with a temperature of 21°C.", entry.Bot)
	assert.Equal(t, intent.RouteWeather, entry.Route)
	assert.Empty(t, r.calls())
}

func TestSendWeatherFailureUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client := weather.NewClient(config.WeatherConfig{APIKey: "k", BaseURL: baseURL, Timeout: time.Second}, zaptest.NewLogger(t))
	c := newTestController(t, client, &fakeReplies{})

	entry, err := c.SendText(context.Background(), "weather in Springfield")
	require.NoError(t, err)
	assert.Equal(t, "Unable to fetch weather data for Springfield. Please check the location and try again.", entry.Bot)
}

func TestSendRejectsBlankDraft(t *testing.T) {
	w := &fakeWeather{}
	r := &fakeReplies{}
	c := newTestController(t, w, r)

	for _, draft := range []string{"", "   ", "\n\t"} {
		c.SetDraft(draft)
		_, err := c.Send(context.Background())
		assert.ErrorIs(t, err, ErrEmptyDraft)
	}

	assert.Empty(t, c.Snapshot().Entries)
	assert.Empty(t, w.calls())
	assert.Empty(t, r.calls())
}

func TestSendWeatherWithoutLocation(t *testing.T) {
	w := &fakeWeather{}
	r := &fakeReplies{}
	c := newTestController(t, w, r)

	c.SetDraft("How is the weather today?")
	_, err := c.Send(context.Background())
	require.ErrorIs(t, err, ErrLocationRequired)

	snap := c.Snapshot()
	assert.Empty(t, snap.Entries)
	assert.Equal(t, "How is the weather today?", snap.Draft)
	assert.Equal(t, chat.StateIdle, snap.State)
	assert.Empty(t, w.calls())
	assert.Empty(t, r.calls())
}

func TestSequentialSendsKeepOrder(t *testing.T) {
	w := &fakeWeather{}
	r := &fakeReplies{}
	c := newTestController(t, w, r)

	const n = 5
	for i := 0; i < n; i++ {
		_, err := c.SendText(context.Background(), fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	_, err := c.SendText(context.Background(), "weather in Lima")
	require.NoError(t, err)

	entries := c.Snapshot().Entries
	require.Len(t, entries, n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("message %d", i), entries[i].User)
	}
	assert.Equal(t, "sunny in Lima", entries[n].Bot)
	assert.Equal(t, []string{"Lima"}, w.calls())
}

func TestSendWhileSendingIsRejected(t *testing.T) {
	r := &fakeReplies{started: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, &fakeWeather{}, r)

	c.SetDraft("first")
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background())
		done <- err
	}()

	<-r.started
	assert.Equal(t, chat.StateSending, c.State())

	_, err := c.Send(context.Background())
	assert.ErrorIs(t, err, ErrSendInFlight)
	_, err = c.SendText(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(r.release)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "first", snap.Entries[0].User)
	assert.Equal(t, []string{"first"}, r.calls())
}

func TestDraftEditedDuringSendIsKept(t *testing.T) {
	r := &fakeReplies{started: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, &fakeWeather{}, r)

	c.SetDraft("first")
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background())
		done <- err
	}()

	<-r.started
	c.SetDraft("next question")
	close(r.release)
	require.NoError(t, <-done)

	assert.Equal(t, "next question", c.Snapshot().Draft)
}

func TestChatFailureProducesFallbackEntry(t *testing.T) {
	r := &fakeReplies{err: errors.New("upstream 503")}
	c := newTestController(t, &fakeWeather{}, r)

	c.SetDraft("hello")
	entry, err := c.Send(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ChatFallbackReply, entry.Bot)
	snap := c.Snapshot()
	assert.Len(t, snap.Entries, 1)
	assert.Equal(t, "", snap.Draft)
	assert.Equal(t, chat.StateIdle, snap.State)
}

func TestChatPanicAndMissingGenerator(t *testing.T) {
	c := newTestController(t, &fakeWeather{}, &fakeReplies{panicOn: "boom"})
	entry, err := c.SendText(context.Background(), "boom")
	require.NoError(t, err)
	assert.Equal(t, ChatFallbackReply, entry.Bot)
	assert.Equal(t, chat.StateIdle, c.State())

	c = newTestController(t, &fakeWeather{}, nil)
	entry, err = c.SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, ChatFallbackReply, entry.Bot)

	c = newTestController(t, nil, nil)
	entry, err = c.SendText(context.Background(), "weather in Quito")
	require.NoError(t, err)
	assert.Equal(t, weather.Fallback("Quito"), entry.Bot)
}

func TestSubscribeSeesSendingThenIdle(t *testing.T) {
	c := newTestController(t, &fakeWeather{}, &fakeReplies{})

	var mu sync.Mutex
	var states []chat.State
	var lastEntries int
	cancel := c.Subscribe(func(s chat.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
		lastEntries = len(s.Entries)
	})

	_, err := c.SendText(context.Background(), "hi")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []chat.State{chat.StateSending, chat.StateIdle}, states)
	assert.Equal(t, 1, lastEntries)
	mu.Unlock()

	cancel()
	_, err = c.SendText(context.Background(), "again")
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, states, 2)
	mu.Unlock()
}

func TestSnapshotIsACopy(t *testing.T) {
	c := newTestController(t, &fakeWeather{}, &fakeReplies{})
	_, err := c.SendText(context.Background(), "hi")
	require.NoError(t, err)

	snap := c.Snapshot()
	snap.Entries[0].Bot = "tampered"

	assert.Equal(t, "echo: hi", c.Snapshot().Entries[0].Bot)
}

func TestListenersEndOnNewestSnapshot(t *testing.T) {
	c := newTestController(t, &fakeWeather{}, &fakeReplies{})

	blocked := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		last chat.Snapshot
		held bool
	)
	cancel := c.Subscribe(func(s chat.Snapshot) {
		mu.Lock()
		hold := !held && s.State == chat.StateIdle && len(s.Entries) == 1
		if hold {
			held = true
		}
		mu.Unlock()

		if hold {
			close(blocked)
			<-release
		}

		mu.Lock()
		last = s
		mu.Unlock()
	})
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.SendText(context.Background(), "one")
		assert.NoError(t, err)
	}()
	<-blocked

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.SendText(context.Background(), "two")
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		return c.State() == chat.StateSending
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	require.Len(t, c.Snapshot().Entries, 2)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, chat.StateIdle, last.State)
	require.Len(t, last.Entries, 2)
	assert.Equal(t, "two", last.Entries[1].User)
}

func TestSendTextKeepsSubmittedText(t *testing.T) {
	c := newTestController(t, &fakeWeather{}, &fakeReplies{})

	stop := make(chan struct{})
	var typing sync.WaitGroup
	typing.Add(1)
	go func() {
		defer typing.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.SetDraft("typed meanwhile")
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		for _, text := range []string{"alpha", "bravo"} {
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				entry, err := c.SendText(context.Background(), text)
				if errors.Is(err, ErrSendInFlight) {
					return
				}
				if assert.NoError(t, err) {
					assert.Equal(t, text, entry.User)
				}
			}(text)
		}
	}
	wg.Wait()
	close(stop)
	typing.Wait()

	for _, entry := range c.Snapshot().Entries {
		assert.Contains(t, []string{"alpha", "bravo"}, entry.User)
	}
}
