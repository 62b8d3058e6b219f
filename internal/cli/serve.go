package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/syncreducer/internal/poke"
	"github.com/roach88/syncreducer/internal/server"
	"github.com/roach88/syncreducer/internal/space"
	"github.com/roach88/syncreducer/internal/store"
)

// DefaultShutdownTimeout bounds how long serve waits for in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	Database        string
	ShutdownTimeout time.Duration

	// OnListen is called with the bound address once the listener is open.
	OnListen func(addr net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the sync server over HTTP.

Opens (or creates) the SQLite database and serves the sync endpoints:

  POST /pull               actions after a given id
  POST /push               append a batch of actions
  POST /getLatestSnapshot  snapshot plus the actions after it
  POST /createSnapshot     store a compacted state
  GET  /poke/{spaceId}     WebSocket stream of pokes
  GET  /metrics            Prometheus metrics
  GET  /healthz            database liveness

Flags override the config file and SYNCREDUCER_* environment variables.

Example:
  syncreducer serve --addr :8080 --db ./sync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config().Server
			if !cmd.Flags().Changed("addr") {
				opts.Addr = cfg.Addr
			}
			if !cmd.Flags().Changed("db") {
				opts.Database = cfg.Database
			}
			return runServe(cmd.Context(), opts, cfg.PokeBuffer, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", DefaultShutdownTimeout, "grace period for in-flight requests")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, pokeBuffer int, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger()

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var srv *server.Server
	hub := poke.NewHub(
		poke.WithBuffer(pokeBuffer),
		poke.WithLogger(logger),
		poke.WithDropHook(func(spaceID string) { srv.Metrics().PokeDropped(spaceID) }),
	)
	defer hub.Close()

	coord := space.NewCoordinator(st, space.WithLogger(logger))
	srv = server.New(coord, hub,
		server.WithLogger(logger),
		server.WithHealthCheck(st.Ping),
	)

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", opts.Addr), err)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// Poke streams are hijacked connections that Shutdown does not wait
		// for; closing the hub ends them.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	logger.Info("server started", "addr", ln.Addr().String(), "db", opts.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	if opts.OnListen != nil {
		opts.OnListen(ln.Addr())
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}
