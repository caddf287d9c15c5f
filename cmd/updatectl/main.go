package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	server      string
	token       string
	profilePath string
	kind        string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "updatectl",
		Short:         "Admin tool for the game update server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.server, "server", "", "Update server base URL (e.g. https://updates.example.com)")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "Admin bearer token")
	cmd.PersistentFlags().StringVar(&flags.profilePath, "profile", "", "Path to the profile file (default ~/.config/updatectl.yaml)")
	cmd.PersistentFlags().StringVar(&flags.kind, "type", "game", "Release kind: game or launcher")

	cmd.AddCommand(newUploadCommand(flags))
	cmd.AddCommand(newActivateCommand(flags))
	cmd.AddCommand(newDeactivateCommand(flags))
	cmd.AddCommand(newDeleteCommand(flags))
	cmd.AddCommand(newActiveCommand(flags))
	cmd.AddCommand(newHistoryCommand(flags))
	cmd.AddCommand(newNotesCommand(flags))
	cmd.AddCommand(newStatsCommand(flags))
	return cmd
}

// connect merges the profile file with the command-line flags, flags
// winning, and builds the API client.
func (f *rootFlags) connect() (*client, error) {
	p, err := loadProfile(f.profilePath)
	if err != nil {
		return nil, err
	}
	server := f.server
	if server == "" {
		server = p.Server
	}
	token := f.token
	if token == "" {
		token = p.Token
	}
	return newClient(server, token)
}

// kindPrefix maps the release kind to the API path prefix the server routes
// by.
func (f *rootFlags) kindPrefix() (string, error) {
	switch f.kind {
	case "game":
		return "/api", nil
	case "launcher":
		return "/api/launcher", nil
	default:
		return "", fmt.Errorf("invalid --type %q: must be game or launcher", f.kind)
	}
}

// historyPath returns the kind's history endpoint. The launcher history
// route is not nested under /version, matching what launcher clients
// already call.
func (f *rootFlags) historyPath() (string, error) {
	switch f.kind {
	case "game":
		return "/api/version/history", nil
	case "launcher":
		return "/api/launcher/history", nil
	default:
		return "", fmt.Errorf("invalid --type %q: must be game or launcher", f.kind)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newUploadCommand(flags *rootFlags) *cobra.Command {
	var (
		filePath string
		version  string
		notes    string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a release zip; the new version stays inactive until activated",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			out, err := c.upload(commandContext(cmd), filePath, flags.kind, version, notes)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "Path to the release zip")
	cmd.Flags().StringVar(&version, "version", "", "Version label for the release")
	cmd.Flags().StringVar(&notes, "notes", "", "Release notes")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newActivateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <version>",
		Short: "Make the given version the one clients download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			prefix, err := flags.kindPrefix()
			if err != nil {
				return err
			}
			var out map[string]any
			if err := c.postJSON(commandContext(cmd), prefix+"/version/"+args[0]+"/activate", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newDeactivateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Take the active version offline without deleting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			prefix, err := flags.kindPrefix()
			if err != nil {
				return err
			}
			var out map[string]any
			if err := c.postJSON(commandContext(cmd), prefix+"/version/deactivate", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newDeleteCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <version>",
		Short: "Delete an inactive version and its stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			prefix, err := flags.kindPrefix()
			if err != nil {
				return err
			}
			if err := c.delete(commandContext(cmd), prefix+"/version/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s %s\n", flags.kind, args[0])
			return nil
		},
	}
}

func newActiveCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the currently active version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			prefix, err := flags.kindPrefix()
			if err != nil {
				return err
			}
			var out map[string]any
			if err := c.getJSON(commandContext(cmd), prefix+"/version", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newHistoryCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List every uploaded version, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			path, err := flags.historyPath()
			if err != nil {
				return err
			}
			var out []map[string]any
			if err := c.getJSON(commandContext(cmd), path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newNotesCommand(flags *rootFlags) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "notes <version>",
		Short: "Replace the release notes of an inactive version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			prefix, err := flags.kindPrefix()
			if err != nil {
				return err
			}
			body := map[string]string{"release_notes": notes}
			var out map[string]any
			if err := c.patchJSON(commandContext(cmd), prefix+"/version/"+args[0]+"/notes", body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "New release notes text")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func newStatsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Per-kind release and download counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.connect()
			if err != nil {
				return err
			}
			kinds, err := c.stats(commandContext(cmd))
			if err != nil {
				return err
			}
			return printJSON(kinds)
		},
	}
}
