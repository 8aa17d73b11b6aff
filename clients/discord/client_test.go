package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/core"
	"athena/models"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return ctx.Err()
}

func (f *fakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func newTestClient(t *testing.T, router *mux.Router, clock *fakeClock) *Client {
	t.Helper()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now, clock.Sleep))
	}
	return NewClient(server.URL, "test-token", opts...)
}

func testEvent() *models.InteractionEvent {
	return &models.InteractionEvent{
		ID:            "1100",
		ApplicationID: "app1",
		Token:         "tok",
		CommandName:   "roll",
		InvokerID:     "u1",
	}
}

func TestClient_Reply(t *testing.T) {
	router := mux.NewRouter()
	var received discordgo.InteractionResponse
	router.HandleFunc("/interactions/{id}/{token}/callback", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1100", mux.Vars(r)["id"])
		assert.Equal(t, "tok", mux.Vars(r)["token"])
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	client := newTestClient(t, router, newFakeClock())

	err := client.Reply(context.Background(), testEvent(), &models.Response{Content: "7 = 1d6[4] + 3", Ephemeral: true})
	require.NoError(t, err)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, received.Type)
	require.NotNil(t, received.Data)
	assert.Equal(t, "7 = 1d6[4] + 3", received.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, received.Data.Flags)
}

func TestClient_DeferAndEditReply(t *testing.T) {
	router := mux.NewRouter()
	var deferred discordgo.InteractionResponse
	var edited map[string]any

	router.HandleFunc("/interactions/{id}/{token}/callback", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&deferred))
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{app}/{token}/messages/@original", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app1", mux.Vars(r)["app"])
		require.NoError(t, json.NewDecoder(r.Body).Decode(&edited))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	}).Methods(http.MethodPatch)

	client := newTestClient(t, router, newFakeClock())
	ctx := context.Background()

	require.NoError(t, client.Defer(ctx, testEvent(), false))
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, deferred.Type)

	embed := &discordgo.MessageEmbed{Title: "Quake ID 2025p1"}
	require.NoError(t, client.EditReply(ctx, testEvent(), models.EmbedResponse(embed)))
	assert.Equal(t, "", edited["content"])
	embeds, ok := edited["embeds"].([]any)
	require.True(t, ok)
	assert.Len(t, embeds, 1)
}

func TestClient_SendDirectMessage(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/users/@me/channels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["recipient_id"])
		_, _ = w.Write([]byte(`{"id":"dm1","type":1}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dm1", mux.Vars(r)["channel"])
		_, _ = w.Write([]byte(`{"id":"msg1","channel_id":"dm1"}`))
	}).Methods(http.MethodPost)

	client := newTestClient(t, router, newFakeClock())

	sent, err := client.SendDirectMessage(context.Background(), "u1", &discordgo.MessageSend{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "msg1", sent.ID)
	assert.Equal(t, "dm1", sent.ChannelID)
}

func TestClient_RegisterCommands(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/applications/{app}/commands", func(w http.ResponseWriter, r *http.Request) {
		var commands []*discordgo.ApplicationCommand
		require.NoError(t, json.NewDecoder(r.Body).Decode(&commands))
		for i, command := range commands {
			command.ID = fmt.Sprintf("cmd%d", i)
		}
		require.NoError(t, json.NewEncoder(w).Encode(commands))
	}).Methods(http.MethodPut)

	client := newTestClient(t, router, newFakeClock())

	registered, err := client.RegisterCommands(context.Background(), "app1", []*discordgo.ApplicationCommand{
		{Name: "roll", Description: "Roll dice"},
		{Name: "tally", Description: "Count"},
	})
	require.NoError(t, err)
	require.Len(t, registered, 2)
	assert.Equal(t, "cmd1", registered[1].ID)
}

func TestClient_RateLimitRetriedExactlyOnce(t *testing.T) {
	t.Run("second rejection surfaces rate limited without a third attempt", func(t *testing.T) {
		var hits atomic.Int32
		router := mux.NewRouter()
		router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("X-RateLimit-Limit", "5")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":2,"global":false}`))
		})

		clock := newFakeClock()
		client := newTestClient(t, router, clock)

		_, err := client.Send(context.Background(), channelMessageRoute("c1"), &discordgo.MessageSend{Content: "x"})
		require.ErrorIs(t, err, core.ErrRateLimited)
		assert.Equal(t, int32(2), hits.Load())
		assert.Equal(t, []time.Duration{2 * time.Second}, clock.Sleeps())
	})

	t.Run("successful retry returns the response", func(t *testing.T) {
		var hits atomic.Int32
		router := mux.NewRouter()
		router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"retry_after":0.5,"global":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"m1"}`))
		})

		clock := newFakeClock()
		client := newTestClient(t, router, clock)

		resp, err := client.Send(context.Background(), channelMessageRoute("c1"), nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(2), hits.Load())
		assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Sleeps())
	})
}

func TestClient_TransientFailures(t *testing.T) {
	t.Run("server errors exhaust into unavailable", func(t *testing.T) {
		var hits atomic.Int32
		router := mux.NewRouter()
		router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})

		clock := newFakeClock()
		client := newTestClient(t, router, clock)

		_, err := client.Send(context.Background(), channelMessageRoute("c1"), nil)
		require.ErrorIs(t, err, core.ErrAPIUnavailable)
		assert.Equal(t, int32(maxTransientAttempts), hits.Load())
		assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}, clock.Sleeps())
	})

	t.Run("network errors exhaust into unavailable", func(t *testing.T) {
		clock := newFakeClock()
		client := NewClient("http://127.0.0.1:1", "test-token", WithClock(clock.Now, clock.Sleep))

		_, err := client.Send(context.Background(), channelMessageRoute("c1"), nil)
		require.ErrorIs(t, err, core.ErrAPIUnavailable)
		assert.Len(t, clock.Sleeps(), maxTransientAttempts-1)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var hits atomic.Int32
		router := mux.NewRouter()
		router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Missing Access","code":50001}`))
		})

		client := newTestClient(t, router, newFakeClock())

		_, err := client.Send(context.Background(), channelMessageRoute("c1"), nil)
		require.Error(t, err)
		assert.True(t, IsAPIError(err, http.StatusForbidden))
		assert.Equal(t, int32(1), hits.Load())
	})
}

// windowServer enforces a fixed-window budget and records any request beyond it.
type windowServer struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	windowEnd  time.Time
	count      int
	served     int
	violations int
}

func (s *windowServer) stats() (served, violations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served, s.violations
}

func (s *windowServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	now := time.Now()
	if !now.Before(s.windowEnd) {
		s.windowEnd = now.Add(s.window)
		s.count = 0
	}
	s.count++
	over := s.count > s.limit
	if over {
		s.violations++
	} else {
		s.served++
	}
	remaining := max(s.limit-s.count, 0)
	resetAfter := math.Ceil(float64(s.windowEnd.Sub(now))/float64(time.Millisecond)) / 1000
	s.mu.Unlock()

	w.Header().Set("X-RateLimit-Limit", fmt.Sprint(s.limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	w.Header().Set("X-RateLimit-Reset-After", fmt.Sprintf("%.3f", resetAfter))
	if over {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(fmt.Sprintf(`{"retry_after":%.3f,"global":false}`, resetAfter)))
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

func TestClient_ConcurrentSendsRespectRouteBudget(t *testing.T) {
	server := &windowServer{limit: 3, window: 150 * time.Millisecond}
	router := mux.NewRouter()
	router.HandleFunc("/channels/{channel}/messages", server.handle)
	client := newTestClient(t, router, nil)

	const requests = 10
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Send(context.Background(), channelMessageRoute("c1"), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	served, violations := server.stats()
	assert.Equal(t, 0, violations)
	assert.Equal(t, requests, served)
	assert.Equal(t, 0, client.locks.Len())
}

func bucketKeys(client *Client) []string {
	client.mu.Lock()
	defer client.mu.Unlock()
	keys := make([]string, 0, len(client.buckets))
	for key := range client.buckets {
		keys = append(keys, key)
	}
	return keys
}

func TestClient_IdleBucketsAreDropped(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		resetAfter := "1"
		if mux.Vars(r)["channel"] == "busy" {
			resetAfter = "3600"
		}
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Reset-After", resetAfter)
		_, _ = w.Write([]byte(`{}`))
	})

	clock := newFakeClock()
	client := newTestClient(t, router, clock)
	ctx := context.Background()

	for _, channel := range []string{"dm1", "dm2", "busy"} {
		_, err := client.Send(ctx, channelMessageRoute(channel), nil)
		require.NoError(t, err)
	}
	assert.Len(t, bucketKeys(client), 3)

	require.NoError(t, clock.Sleep(ctx, bucketSweepInterval))
	_, err := client.Send(ctx, channelMessageRoute("dm3"), nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"POST /channels/busy/messages", "POST /channels/dm3/messages"}, bucketKeys(client))
	assert.Equal(t, 0, client.locks.Len())
}

func TestClient_InteractionRoutes(t *testing.T) {
	t.Run("responses are not held back by the global limit", func(t *testing.T) {
		router := mux.NewRouter()
		router.HandleFunc("/interactions/{id}/{token}/callback", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodPost)
		router.HandleFunc("/webhooks/{app}/{token}/messages/@original", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"m1"}`))
		}).Methods(http.MethodPatch)
		router.HandleFunc("/channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})

		clock := newFakeClock()
		client := newTestClient(t, router, clock)
		ctx := context.Background()
		client.blockGlobal(ctx, time.Hour)

		require.NoError(t, client.Reply(ctx, testEvent(), &models.Response{Content: "4"}))
		require.NoError(t, client.EditReply(ctx, testEvent(), &models.Response{Content: "5"}))
		assert.Empty(t, clock.Sleeps())

		_, err := client.Send(ctx, channelMessageRoute("c1"), nil)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{time.Hour}, clock.Sleeps())
	})

	t.Run("each interaction has its own bucket", func(t *testing.T) {
		first := interactionCallbackRoute("1100", "tok")
		second := interactionCallbackRoute("1200", "other")
		assert.NotEqual(t, first.Bucket, second.Bucket)
		assert.NotContains(t, first.Bucket, "tok")
		assert.True(t, first.Interaction)

		edit := editOriginalRoute("app1", "1100", "tok")
		assert.NotEqual(t, edit.Bucket, editOriginalRoute("app1", "1200", "other").Bucket)
		assert.NotContains(t, edit.Bucket, "tok")
		assert.True(t, edit.Interaction)

		assert.False(t, channelMessageRoute("c1").Interaction)
	})
}

func TestBucket_Apply(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	headers := func(remaining int, resetAfter time.Duration) rateLimitHeaders {
		return rateLimitHeaders{present: true, limit: 5, remaining: remaining, resetAfter: resetAfter}
	}

	b := newBucket()
	b.apply(headers(4, time.Second), now)
	assert.True(t, b.known)
	assert.Equal(t, 4, b.remaining)

	// same window reports can only lower the budget
	b.remaining = 2
	b.apply(headers(3, time.Second-10*time.Millisecond), now.Add(10*time.Millisecond))
	assert.Equal(t, 2, b.remaining)

	// older window is ignored
	b.apply(headers(0, 100*time.Millisecond), now)
	assert.Equal(t, 2, b.remaining)

	// new window accounts for requests still in flight
	b.inflight = 1
	b.apply(headers(4, time.Second), now.Add(time.Second))
	assert.Equal(t, 3, b.remaining)
	assert.Equal(t, now.Add(2*time.Second), b.resetAt)
}

func TestParseRateLimitHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("X-RateLimit-Limit", "5")
	header.Set("X-RateLimit-Remaining", "1")
	header.Set("X-RateLimit-Reset-After", "1.25")

	h := parseRateLimitHeaders(header)
	assert.True(t, h.present)
	assert.Equal(t, 5, h.limit)
	assert.Equal(t, 1, h.remaining)
	assert.Equal(t, 1250*time.Millisecond, h.resetAfter)

	assert.False(t, parseRateLimitHeaders(http.Header{}).present)
}
