package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDiscord serves the subset of the Discord REST API used by DiscordClient.
type fakeDiscord struct {
	mu       sync.Mutex
	roles    map[string]map[string]bool // "guild/user" -> role set
	messages map[string][]string        // channel -> contents
	calls    int
	failNext int
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		roles:    map[string]map[string]bool{"10/1": {"500": true}},
		messages: make(map[string][]string),
	}
}

func (f *fakeDiscord) handler(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			assert.Equal(t, "Bot test-token", req.Header.Get("Authorization"))
			f.mu.Lock()
			f.calls++
			fail := f.failNext > 0
			if fail {
				f.failNext--
			}
			f.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/users/@me/guilds", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]string{{"id": "10"}, {"id": "20"}, {"id": "bogus"}})
	})
	r.Get("/guilds/{guild}/members/{user}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		roles, ok := f.roles[chi.URLParam(req, "guild")+"/"+chi.URLParam(req, "user")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Unknown Member","code":10007}`))
			return
		}
		ids := make([]string, 0, len(roles))
		for id := range roles {
			ids = append(ids, id)
		}
		writeJSON(w, map[string]any{
			"user":  map[string]string{"id": chi.URLParam(req, "user"), "username": "alice"},
			"roles": ids,
		})
	})
	r.Put("/guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		k := chi.URLParam(req, "guild") + "/" + chi.URLParam(req, "user")
		if f.roles[k] == nil {
			f.roles[k] = make(map[string]bool)
		}
		f.roles[k][chi.URLParam(req, "role")] = true
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.roles[chi.URLParam(req, "guild")+"/"+chi.URLParam(req, "user")], chi.URLParam(req, "role"))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/users/@me/channels", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		writeJSON(w, map[string]string{"id": "9" + body["recipient_id"]})
	})
	r.Post("/channels/{channel}/messages", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		f.messages[chi.URLParam(req, "channel")] = append(f.messages[chi.URLParam(req, "channel")], body["content"])
		f.mu.Unlock()
		writeJSON(w, map[string]string{"id": "1"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestDiscord(t *testing.T, guilds ...int64) (*DiscordClient, *fakeDiscord) {
	t.Helper()
	fake := newFakeDiscord()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	client := NewDiscordClient(DiscordConfig{
		Token:    "test-token",
		APIBase:  srv.URL,
		GuildIDs: guilds,
		Timeout:  2 * time.Second,
		RetryMax: 2,
	}, zerolog.Nop())
	client.client.RetryWaitMin = time.Millisecond
	client.client.RetryWaitMax = 5 * time.Millisecond
	return client, fake
}

func TestDiscordClient_Guilds(t *testing.T) {
	ctx := context.Background()

	client, _ := newTestDiscord(t)
	guilds, err := client.Guilds(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20}, guilds)

	filtered, _ := newTestDiscord(t, 20)
	guilds, err = filtered.Guilds(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{20}, guilds)
}

func TestDiscordClient_MemberRoles(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestDiscord(t)

	member, err := client.GetMember(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, "alice", member.Username)
	require.True(t, member.HasRole(500))

	require.NoError(t, client.RemoveRole(ctx, 10, 1, 500))
	member, err = client.GetMember(ctx, 10, 1)
	require.NoError(t, err)
	require.False(t, member.HasRole(500))

	require.NoError(t, client.AddRole(ctx, 10, 1, 600))
	member, err = client.GetMember(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, member.HasRole(600))

	_, err = client.GetMember(ctx, 10, 2)
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestDiscordClient_Messages(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestDiscord(t)

	require.NoError(t, client.SendDirectMessage(ctx, 42, "expired"))
	require.NoError(t, client.SendChannelMessage(ctx, 7, "audit"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, []string{"expired"}, fake.messages["942"])
	require.Equal(t, []string{"audit"}, fake.messages["7"])
}

func TestDiscordClient_RetriesServerErrors(t *testing.T) {
	ctx := context.Background()
	client, fake := newTestDiscord(t)

	fake.mu.Lock()
	fake.failNext = 2
	fake.mu.Unlock()

	_, err := client.Guilds(ctx)
	require.NoError(t, err)

	fake.mu.Lock()
	calls := fake.calls
	fake.failNext = 10
	fake.mu.Unlock()
	require.Equal(t, 3, calls)

	err = client.AddRole(ctx, 10, 1, 600)
	require.Error(t, err)
}
