package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/syncreducer/internal/poke"
	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/space"
)

// Server answers sync requests for every space.
type Server struct {
	coord     *space.Coordinator
	publisher poke.Publisher
	health    func(ctx context.Context) error
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck sets the probe behind GET /healthz.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

// New creates a server. publisher receives a poke after every non-empty
// push; it may be nil to disable notifications.
func New(coord *space.Coordinator, publisher poke.Publisher, opts ...Option) *Server {
	s := &Server{
		coord:     coord,
		publisher: publisher,
		logger:    slog.Default(),
		metrics:   newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the server collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Pull returns the actions of the space after req.LastActionID.
func (s *Server) Pull(ctx context.Context, req protocol.PullRequest) (protocol.PullResponse, error) {
	actions, err := s.coord.Pull(ctx, req.SpaceID, req.LastActionID)
	if err != nil {
		s.countError(err)
		return protocol.PullResponse{}, err
	}
	s.metrics.actionsPulled.Add(float64(len(actions)))
	return protocol.PullResponse{Actions: protocol.NonNil(actions)}, nil
}

// Push confirms req.Actions in order and pokes the space. An empty batch
// returns immediately without storage access or poke.
//
// The poke is best effort: a publish failure is logged and the push still
// succeeds.
func (s *Server) Push(ctx context.Context, req protocol.PushRequest) (protocol.PushResponse, error) {
	if len(req.Actions) == 0 {
		return protocol.PushResponse{Actions: []protocol.ConfirmedAction{}}, nil
	}

	confirmed, err := s.coord.Push(ctx, req.SpaceID, req.Actions)
	if err != nil {
		s.countError(err)
		return protocol.PushResponse{}, err
	}
	s.metrics.actionsPushed.Add(float64(len(confirmed)))

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, req.SpaceID, protocol.NewPoke(confirmed)); err != nil {
			s.metrics.pokeFailures.Inc()
			s.logger.Warn("poke publish failed", "space", req.SpaceID, "err", err)
		}
	}

	return protocol.PushResponse{Actions: confirmed}, nil
}

// GetLatestSnapshot returns the stored snapshot and the actions after it.
func (s *Server) GetLatestSnapshot(ctx context.Context, req protocol.SnapshotRequest) (protocol.SnapshotResponse, error) {
	resp, err := s.coord.LatestSnapshot(ctx, req.SpaceID)
	if err != nil {
		s.countError(err)
		return protocol.SnapshotResponse{}, err
	}
	resp.ActionsSinceLastSnapshot = protocol.NonNil(resp.ActionsSinceLastSnapshot)
	s.metrics.actionsPulled.Add(float64(len(resp.ActionsSinceLastSnapshot)))
	return resp, nil
}

// CreateSnapshot replaces the snapshot of the space.
func (s *Server) CreateSnapshot(ctx context.Context, req protocol.CreateSnapshotRequest) (protocol.CreateSnapshotResponse, error) {
	if err := s.coord.CreateSnapshot(ctx, req.SpaceID, req.LastActionID, req.State); err != nil {
		s.countError(err)
		return protocol.CreateSnapshotResponse{}, err
	}
	s.metrics.snapshotsCreated.Inc()
	s.logger.Info("snapshot created", "space", req.SpaceID, "action_id", req.LastActionID)
	return protocol.CreateSnapshotResponse{Success: true}, nil
}

func (s *Server) countError(err error) {
	var se *space.StorageError
	if errors.As(err, &se) {
		s.metrics.storageErrors.WithLabelValues(se.Op).Inc()
		s.logger.Error("storage failure", "space", se.SpaceID, "op", se.Op, "err", se.Err)
	}
}
