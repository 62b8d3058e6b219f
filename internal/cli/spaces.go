package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/store"
)

// NewSpacesCommand creates the spaces command.
func NewSpacesCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "spaces",
		Short: "List the spaces in a database",
		Long: `List every space stored in a server database with its log length and
snapshot position. Reads the database directly; the server may be running.

Example:
  syncreducer spaces --db ./sync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openDatabase(cmd, rootOpts, database)
			if err != nil {
				return err
			}
			defer st.Close()

			spaces, err := st.ListSpaces(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list spaces", err)
			}

			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(spaces)
			}
			if len(spaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No spaces found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SPACE\tLAST ACTION\tSNAPSHOT")
			for _, s := range spaces {
				snap := "-"
				if s.SnapshotActionID >= 0 {
					snap = fmt.Sprint(s.SnapshotActionID)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.SpaceID, s.LastActionID, snap)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

// openDatabase opens a server database named by --db or the config. A
// missing file is a command error rather than a fresh empty database.
func openDatabase(cmd *cobra.Command, rootOpts *RootOptions, database string) (*store.Store, error) {
	if !cmd.Flags().Changed("db") {
		database = rootOpts.config().Server.Database
	}
	if _, err := os.Stat(database); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", database), err)
	}

	st, err := store.Open(database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	var database, spaceID string

	cmd := &cobra.Command{
		Use:   "find <client-action-id>",
		Short: "Look up a confirmed action by its client id",
		Long: `Print the server action id a client action was confirmed under.
Exits 1 if the action was never confirmed in the space.

Example:
  syncreducer find --db ./sync.db --space counter 0192f3c4-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if spaceID == "" {
				spaceID = rootOpts.config().Client.SpaceID
			}
			if spaceID == "" {
				return NewExitError(ExitCommandError, "no space: pass --space or set client.space_id")
			}

			st, err := openDatabase(cmd, rootOpts, database)
			if err != nil {
				return err
			}
			defer st.Close()

			action, err := st.FindAction(cmd.Context(), spaceID, args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return NewExitError(ExitFailure, fmt.Sprintf("action %s not confirmed in space %s", args[0], spaceID))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to find action", err)
			}

			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(action)
			}
			return writeActions(cmd.OutOrStdout(), []protocol.ConfirmedAction{action})
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&spaceID, "space", "", "space id (default from config)")

	return cmd
}

// NewSpaceIDCommand creates the space-id command.
func NewSpaceIDCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "space-id [reducer-source]",
		Short: "Print the default space id of a reducer",
		Long: `Print the space id clients derive from a reducer source when no space
is configured. The source is given as an argument or read from --file.

Example:
  syncreducer space-id --file ./reducer.js`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var source string
			switch {
			case file != "" && len(args) > 0:
				return NewExitError(ExitCommandError, "pass either a source argument or --file, not both")
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read reducer source", err)
				}
				source = string(data)
			case len(args) == 1:
				source = args[0]
			default:
				return NewExitError(ExitCommandError, "reducer source required: pass it as an argument or use --file")
			}

			id := protocol.DefaultSpaceID(source)
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(map[string]string{"space_id": id})
			}
			return rootOpts.formatter(cmd).Success(id)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the reducer source from a file")

	return cmd
}
