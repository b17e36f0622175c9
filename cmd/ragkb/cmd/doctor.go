package cmd

import (
	"time"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/preflight"
)

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var (
		verbose bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, data directory and providers",
		Long: `Run preflight checks before storing documents:

  - configuration validates
  - data directory is writable and has 100 MB free
  - file descriptor limit is at least 1024
  - no other process holds the data directory
  - the embedding provider answers with the configured width
  - the answer generator, if any, can be constructed

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			results := preflight.New(cfg, preflight.WithProbeTimeout(timeout)).RunAll(cmd.Context())

			w := writer(cmd)
			if g.jsonOut {
				if err := w.JSON(map[string]any{
					"status": preflight.Summary(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				w.Checks(results, verbose)
			}
			if preflight.HasCriticalFailures(results) {
				return kberrors.New(kberrors.ErrCodeConfigInvalid, "preflight checks failed", nil).
					WithSuggestion("run 'ragkb doctor --verbose' for details")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Time limit for each provider probe")
	return cmd
}
