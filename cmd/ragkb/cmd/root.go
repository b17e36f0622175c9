// Package cmd provides the CLI commands for ragkb.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/output"
	"github.com/Aman-CERP/ragkb/internal/profiling"
	"github.com/Aman-CERP/ragkb/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir        string
	configFile string
	dataDir    string
	debug      bool
	jsonOut    bool
	profile    profiling.Options
}

// NewRootCmd creates the root command for the ragkb CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}
	var session *profiling.Session

	cmd := &cobra.Command{
		Use:   "ragkb",
		Short: "Hybrid retrieval knowledge base",
		Long: `ragkb stores documents, splits them into chunks, embeds them and
answers questions over them with vector, keyword or hybrid retrieval.

Documents are versioned. Embedding runs in the background so writes
return immediately.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !g.profile.Enabled() {
				return nil
			}
			s, err := profiling.Start(g.profile)
			if err != nil {
				return err
			}
			session = s
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return session.Stop()
		},
	}
	cmd.SetVersionTemplate("ragkb version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.dir, "dir", "C", ".", "Project directory holding .ragkb.yaml")
	pf.StringVar(&g.configFile, "config", "", "Explicit config file (skips user and project config)")
	pf.StringVar(&g.dataDir, "data-dir", "", "Data directory (default <dir>/.ragkb)")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&g.jsonOut, "json", false, "Print JSON instead of text")
	pf.StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&g.profile.Heap, "profile-mem", "", "Write heap profile to file")
	pf.StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newIngestCmd(g))
	cmd.AddCommand(newRemoveCmd(g))
	cmd.AddCommand(newQueryCmd(g))
	cmd.AddCommand(newAskCmd(g))
	cmd.AddCommand(newDocCmd(g))
	cmd.AddCommand(newWatchCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newLogsCmd(g))
	cmd.AddCommand(newVersionCmd(g))

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		reportError(root.ErrOrStderr(), err)
	}
	return err
}

// reportError prints err with its hint and code.
func reportError(w io.Writer, err error) {
	_, _ = fmt.Fprint(w, kberrors.FormatForCLI(err))
	slog.Debug("command_failed", kberrors.LogAttrs(err)...)
}

func writer(cmd *cobra.Command) *output.Writer {
	return output.New(cmd.OutOrStdout())
}

func errorf(format string, args ...any) error {
	return kberrors.ValidationError(fmt.Sprintf(format, args...), nil)
}
