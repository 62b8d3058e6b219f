package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/roach88/syncreducer/internal/poke"
	"github.com/roach88/syncreducer/internal/protocol"
)

const (
	defaultTimeout = 30 * time.Second
	minBackoff     = 250 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// HTTP is a Network backed by a sync server reachable over HTTP.
type HTTP struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Network = (*HTTP)(nil)

// HTTPOption configures an HTTP network.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHTTP creates a network for the server at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse server url: unsupported scheme %q", u.Scheme)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &HTTP{
		base:   u,
		client: &http.Client{Timeout: defaultTimeout},
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Pull implements Network.
func (h *HTTP) Pull(ctx context.Context, req protocol.PullRequest) (protocol.PullResponse, error) {
	var resp protocol.PullResponse
	err := h.post(ctx, "/pull", req, &resp)
	resp.Actions = protocol.NonNil(resp.Actions)
	return resp, err
}

// Push implements Network.
func (h *HTTP) Push(ctx context.Context, req protocol.PushRequest) (protocol.PushResponse, error) {
	var resp protocol.PushResponse
	err := h.post(ctx, "/push", req, &resp)
	resp.Actions = protocol.NonNil(resp.Actions)
	return resp, err
}

// GetLatestSnapshot implements Network.
func (h *HTTP) GetLatestSnapshot(ctx context.Context, req protocol.SnapshotRequest) (protocol.SnapshotResponse, error) {
	var resp protocol.SnapshotResponse
	err := h.post(ctx, "/getLatestSnapshot", req, &resp)
	resp.ActionsSinceLastSnapshot = protocol.NonNil(resp.ActionsSinceLastSnapshot)
	return resp, err
}

// CreateSnapshot implements Network.
func (h *HTTP) CreateSnapshot(ctx context.Context, req protocol.CreateSnapshotRequest) (protocol.CreateSnapshotResponse, error) {
	var resp protocol.CreateSnapshotResponse
	err := h.post(ctx, "/createSnapshot", req, &resp)
	return resp, err
}

// SubscribeToPoke implements Network. The WebSocket is redialed with
// exponential backoff whenever it drops, until unsubscribe or Close.
func (h *HTTP) SubscribeToPoke(ctx context.Context, spaceID string, fn func(protocol.PokeMessage)) (func(), error) {
	if err := h.ctx.Err(); err != nil {
		return nil, ErrClosed
	}

	wsURL := h.pokeURL(spaceID)
	subCtx, cancel := context.WithCancel(h.ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		backoff := minBackoff
		for {
			sub, err := poke.Dial(subCtx, wsURL, poke.Handler(fn))
			if err == nil {
				backoff = minBackoff
				select {
				case <-sub.Done():
					h.logger.Debug("poke stream ended", "space", spaceID, "err", sub.Err())
				case <-subCtx.Done():
					_ = sub.Close()
					return
				}
			} else {
				h.logger.Debug("poke dial failed", "space", spaceID, "err", err)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-subCtx.Done():
				timer.Stop()
				return
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}()

	return cancel, nil
}

// Close ends every poke subscription.
func (h *HTTP) Close() error {
	h.cancel()
	h.wg.Wait()
	return nil
}

func (h *HTTP) pokeURL(spaceID string) string {
	u := *h.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	escaped := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/poke/" + spaceID
	u.RawPath = escaped + "/poke/" + url.PathEscape(spaceID)
	return u.String()
}

func (h *HTTP) post(ctx context.Context, endpoint string, in, out any) error {
	if err := h.ctx.Err(); err != nil {
		return ErrClosed
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", endpoint, err)
	}

	u := h.base.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e protocol.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error, Endpoint: endpoint}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}
