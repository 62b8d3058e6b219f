package poke

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncreducer/internal/protocol"
)

func TestWebSocket_StreamsPokes(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/poke/"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/poke/s"
	sub, err := Dial(ctx, url, c.handle)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return h.Subscribers("s") == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(ctx, "s", poke(1, 2)))
	require.NoError(t, h.Publish(ctx, "s", poke(3)))

	got := c.wait(t, 2)
	assert.Len(t, got[0].Actions, 2)
	assert.Equal(t, int64(3), got[1].Actions[0].ServerActionID)
}

func TestWebSocket_ServerUnsubscribesOnDisconnect(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, "s")
	}))
	defer srv.Close()

	sub, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), func(protocol.PokeMessage) {})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Subscribers("s") == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())

	require.Eventually(t, func() bool { return h.Subscribers("s") == 0 },
		2*time.Second, 5*time.Millisecond)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
}

func TestDial_ContextCancelEndsStream(t *testing.T) {
	h := NewHub()
	defer h.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, "s")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), func(protocol.PokeMessage) {})
	require.NoError(t, err)

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end after cancel")
	}
}

func TestWebSocket_HubCloseEndsStream(t *testing.T) {
	h := NewHub()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, "s")
	}))
	defer srv.Close()

	sub, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), func(protocol.PokeMessage) {})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return h.Subscribers("s") == 1 },
		2*time.Second, 5*time.Millisecond)

	h.Close()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
}
