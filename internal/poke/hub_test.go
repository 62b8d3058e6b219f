package poke

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncreducer/internal/protocol"
)

func poke(ids ...int64) protocol.PokeMessage {
	actions := make([]protocol.ConfirmedAction, len(ids))
	for i, id := range ids {
		actions[i] = protocol.ConfirmedAction{ClientActionID: "c", ServerActionID: id, Action: []byte(`{}`)}
	}
	return protocol.NewPoke(actions)
}

// collector records pokes delivered to a subscription.
type collector struct {
	mu   sync.Mutex
	got  []protocol.PokeMessage
	seen chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 128)}
}

func (c *collector) handle(msg protocol.PokeMessage) {
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []protocol.PokeMessage {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for poke %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.PokeMessage(nil), c.got...)
}

func TestHub_DeliversToSpaceSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	a, b, other := newCollector(), newCollector(), newCollector()
	h.Subscribe("s", a.handle)
	h.Subscribe("s", b.handle)
	h.Subscribe("t", other.handle)

	require.NoError(t, h.Publish(context.Background(), "s", poke(1)))

	assert.Equal(t, int64(1), a.wait(t, 1)[0].Actions[0].ServerActionID)
	assert.Equal(t, int64(1), b.wait(t, 1)[0].Actions[0].ServerActionID)

	select {
	case <-other.seen:
		t.Fatal("poke delivered to another space")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := newCollector()
	h.Subscribe("s", c.handle)

	for id := int64(1); id <= 20; id++ {
		require.NoError(t, h.Publish(context.Background(), "s", poke(id)))
	}

	got := c.wait(t, 20)
	for i, msg := range got {
		assert.Equal(t, int64(i+1), msg.Actions[0].ServerActionID)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := newCollector()
	unsubscribe := h.Subscribe("s", c.handle)
	assert.Equal(t, 1, h.Subscribers("s"))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, h.Subscribers("s"))

	require.NoError(t, h.Publish(context.Background(), "s", poke(1)))
	select {
	case <-c.seen:
		t.Fatal("poke delivered after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_DropsWhenSubscriberIsFull(t *testing.T) {
	var dropped []string
	var mu sync.Mutex
	h := NewHub(WithBuffer(1), WithDropHook(func(spaceID string) {
		mu.Lock()
		dropped = append(dropped, spaceID)
		mu.Unlock()
	}))
	defer h.Close()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.Subscribe("s", func(protocol.PokeMessage) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, "s", poke(1)))
	<-entered // handler is now blocked on the first poke

	require.NoError(t, h.Publish(ctx, "s", poke(2))) // fills the queue
	require.NoError(t, h.Publish(ctx, "s", poke(3))) // dropped
	close(release)

	assert.Equal(t, int64(1), h.Dropped())
	mu.Lock()
	assert.Equal(t, []string{"s"}, dropped)
	mu.Unlock()
}

func TestHub_PublishAfterClose(t *testing.T) {
	h := NewHub()
	h.Close()
	h.Close()

	assert.ErrorIs(t, h.Publish(context.Background(), "s", poke(1)), ErrClosed)

	unsubscribe := h.Subscribe("s", func(protocol.PokeMessage) {})
	unsubscribe()
}

func TestHub_PublishHonorsContext(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Publish(ctx, "s", poke(1)), context.Canceled)
}
