package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures what the notifier dispatched to it.
type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	events []string
	titles []string
}

func (s *recordingSender) Send(_ context.Context, event, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyFiltersByConfiguredEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"price_breach"}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "price_breach", "Breach", "below min"))
	require.NoError(t, n.Notify(ctx, "relist_limit", "Limit", "spent"))

	assert.Equal(t, []string{"price_breach"}, s.events, "only configured events pass the filter")
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"price_breach"}, testLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "Manual", "operator ping"))
	assert.Equal(t, []string{"Manual"}, s.titles)
}

func TestNotifyCollectsSenderFailures(t *testing.T) {
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", err: errors.New("webhook down")}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "relist_limit", "Limit", "spent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"relist_limit"}, good.events, "one failing sender must not block the rest")
}

func TestTelegramSendFormatsEventHeader(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottok-123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok-123", "chat-9")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), "relist_limit", "Relist limit reached", "order ord-1 spent its budget")
	require.NoError(t, err)

	assert.Equal(t, "chat-9", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, "*[relist] Relist limit reached*\norder ord-1 spent its budget", got["text"])
}

func TestTelegramSendUnknownEventOmitsTag(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "", "Manual", "ping"))
	assert.Equal(t, "*Manual*\nping", got["text"])
}

func TestTelegramSendRejectsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), "price_breach", "Breach", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestDiscordSendBuildsColoredEmbed(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Color       int    `json:"color"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "price_breach", "Price band breached", "market left the band")
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Price band breached", got.Embeds[0].Title)
	assert.Equal(t, "market left the band", got.Embeds[0].Description)
	assert.Equal(t, 0xE74C3C, got.Embeds[0].Color)
}

func TestEventColorPerKind(t *testing.T) {
	assert.Equal(t, 0xE67E22, eventColor("relist_limit"))
	assert.Equal(t, 0x2ECC71, eventColor("overbid_executed"))
	assert.Equal(t, 0x95A5A6, eventColor("something_else"))
}
