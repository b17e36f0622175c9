package cmd

import (
	"regexp"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/logging"
)

func newLogsCmd(g *globalOptions) *cobra.Command {
	var (
		lines   int
		follow  bool
		level   string
		pattern string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the ragkb log",
		Long: `Print recent records from the JSON log file, optionally following it.

The log lives at <data-dir>/logs/ragkb.log unless logging.file is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				cfg, err := loadConfig(g)
				if err != nil {
					return err
				}
				path = cfg.Logging.FilePath
				if path == "" {
					path = logging.DefaultLogPath(cfg.DataDir)
				}
			}

			f := logging.Filter{MinLevel: level}
			if pattern != "" {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return errorf("invalid --filter pattern: %v", err)
				}
				f.Pattern = re
			}

			w := writer(cmd)
			entries, err := logging.Tail(path, lines, f)
			if err != nil {
				return err
			}
			for _, e := range entries {
				w.Println(e.Format())
			}
			if !follow {
				return nil
			}
			return logging.Follow(cmd.Context(), path, f, func(e logging.Entry) {
				w.Println(e.Format())
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to read")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&pattern, "filter", "", "Only records whose raw line matches this regexp")
	cmd.Flags().StringVar(&file, "file", "", "Log file to read instead of the configured one")
	return cmd
}
