package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/syncreducer/internal/client"
	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/transport"
)

// RemoteOptions holds the flags shared by commands that talk to a server.
type RemoteOptions struct {
	*RootOptions
	ServerURL string
	SpaceID   string
}

func (o *RemoteOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ServerURL, "server", "", "sync server base URL (default from config)")
	cmd.Flags().StringVar(&o.SpaceID, "space", "", "space id (default from config)")
}

// connect resolves the server and space from flags then config and opens
// an HTTP network. The caller closes it.
func (o *RemoteOptions) connect() (*transport.HTTP, string, error) {
	cfg := o.config().Client
	serverURL := o.ServerURL
	if serverURL == "" {
		serverURL = cfg.ServerURL
	}
	spaceID := o.SpaceID
	if spaceID == "" {
		spaceID = cfg.SpaceID
	}
	if spaceID == "" {
		return nil, "", NewExitError(ExitCommandError, "no space: pass --space or set client.space_id")
	}

	net, err := transport.NewHTTP(serverURL, transport.WithLogger(o.logger()))
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "invalid server url", err)
	}
	return net, spaceID, nil
}

// remoteError maps a transport error to an exit code. Requests the server
// rejected are command errors; everything else is a failure.
func remoteError(op string, err error) error {
	var status *transport.StatusError
	if errors.As(err, &status) && !status.Retryable() {
		return WrapExitError(ExitCommandError, op+" rejected", err)
	}
	return WrapExitError(ExitFailure, op+" failed", err)
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}
	var since int64

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Print the actions of a space",
		Long: `Print the confirmed actions of a space after --since.

Example:
  syncreducer pull --space counter
  syncreducer pull --space counter --since 41 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			net, spaceID, err := opts.connect()
			if err != nil {
				return err
			}
			defer net.Close()

			resp, err := net.Pull(cmd.Context(), protocol.PullRequest{SpaceID: spaceID, LastActionID: since})
			if err != nil {
				return remoteError("pull", err)
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).Success(resp)
			}
			return writeActions(cmd.OutOrStdout(), resp.Actions)
		},
	}

	opts.bind(cmd)
	cmd.Flags().Int64Var(&since, "since", -1, "only actions after this server action id")

	return cmd
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <action-json>...",
		Short: "Append actions to a space",
		Long: `Append one batch of actions to a space.

Each argument is one action as a JSON document. Actions get fresh client
action ids and are ordered together, in argument order.

Example:
  syncreducer push --space counter '{"type":"increment"}' '{"type":"add","amount":5}'`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := parseActions(args, client.UUIDv7Generator{})
			if err != nil {
				return err
			}

			net, spaceID, err := opts.connect()
			if err != nil {
				return err
			}
			defer net.Close()

			resp, err := net.Push(cmd.Context(), protocol.PushRequest{SpaceID: spaceID, Actions: actions})
			if err != nil {
				return remoteError("push", err)
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).Success(resp)
			}
			return writeActions(cmd.OutOrStdout(), resp.Actions)
		},
	}

	opts.bind(cmd)

	return cmd
}

func parseActions(args []string, ids client.IDGenerator) ([]protocol.Action, error) {
	actions := make([]protocol.Action, 0, len(args))
	for i, arg := range args {
		if !json.Valid([]byte(arg)) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("action %d is not valid JSON: %s", i, arg))
		}
		actions = append(actions, protocol.Action{
			ClientActionID: ids.Generate(),
			Action:         json.RawMessage(arg),
		})
	}
	return actions, nil
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the latest snapshot of a space",
		Long: `Print the stored snapshot of a space and the actions after it.

Example:
  syncreducer snapshot --space counter --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			net, spaceID, err := opts.connect()
			if err != nil {
				return err
			}
			defer net.Close()

			resp, err := net.GetLatestSnapshot(cmd.Context(), protocol.SnapshotRequest{SpaceID: spaceID})
			if err != nil {
				return remoteError("snapshot", err)
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).Success(resp)
			}

			w := cmd.OutOrStdout()
			if resp.HasState() {
				fmt.Fprintf(w, "snapshot through %d: %s\n", resp.LastIncludedActionID, resp.State)
			} else {
				fmt.Fprintln(w, "no snapshot")
			}
			fmt.Fprintf(w, "%d action(s) since snapshot\n", len(resp.ActionsSinceLastSnapshot))
			return writeActions(w, resp.ActionsSinceLastSnapshot)
		},
	}

	opts.bind(cmd)

	return cmd
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}
	var (
		lastActionID int64
		state        string
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Store a snapshot for a space",
		Long: `Store a reduced state as the snapshot of a space.

The server trusts that --state is the reduction of every action up to and
including --last-action-id.

Example:
  syncreducer compact --space counter --last-action-id 120 --state 37`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(state)) {
				return NewExitError(ExitCommandError, fmt.Sprintf("state is not valid JSON: %s", state))
			}

			net, spaceID, err := opts.connect()
			if err != nil {
				return err
			}
			defer net.Close()

			resp, err := net.CreateSnapshot(cmd.Context(), protocol.CreateSnapshotRequest{
				SpaceID:      spaceID,
				LastActionID: lastActionID,
				State:        json.RawMessage(state),
			})
			if err != nil {
				return remoteError("compact", err)
			}
			if opts.Format == "json" {
				return opts.formatter(cmd).Success(resp)
			}
			return opts.formatter(cmd).Success(fmt.Sprintf("snapshot stored through %d", lastActionID))
		},
	}

	opts.bind(cmd)
	cmd.Flags().Int64Var(&lastActionID, "last-action-id", 0, "last server action id folded into the state")
	cmd.Flags().StringVar(&state, "state", "", "reduced state as JSON")
	_ = cmd.MarkFlagRequired("last-action-id")
	_ = cmd.MarkFlagRequired("state")

	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the pokes of a space",
		Long: `Print every poke broadcast for a space until interrupted.

The stream reconnects on its own. Pokes are best effort, so gaps are
possible; use pull to catch up.

With --format json, each poke is printed as one JSON line.

Example:
  syncreducer watch --space counter`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			net, spaceID, err := opts.connect()
			if err != nil {
				return err
			}
			defer net.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()
			enc := json.NewEncoder(w)
			unsubscribe, err := net.SubscribeToPoke(ctx, spaceID, func(msg protocol.PokeMessage) {
				if opts.Format == "json" {
					_ = enc.Encode(msg)
					return
				}
				_ = writeActions(w, msg.Actions)
			})
			if err != nil {
				return remoteError("watch", err)
			}
			defer unsubscribe()

			opts.formatter(cmd).VerboseLog("watching %s", spaceID)
			<-ctx.Done()
			return nil
		},
	}

	opts.bind(cmd)

	return cmd
}

// writeActions prints one action per line: server id, client id, payload.
func writeActions(w io.Writer, actions []protocol.ConfirmedAction) error {
	for _, a := range actions {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", a.ServerActionID, a.ClientActionID, a.Action); err != nil {
			return err
		}
	}
	return nil
}
