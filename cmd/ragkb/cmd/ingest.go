package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/documents"
	"github.com/Aman-CERP/ragkb/internal/ingest"
	"github.com/Aman-CERP/ragkb/internal/watcher"
)

type ingestOptions struct {
	sourceID    string
	name        string
	org         string
	contentType string
	metadata    map[string]string
	strategy    string
	maxSize     int
	overlap     int
}

func newIngestCmd(g *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file|-> [file...]",
		Short: "Chunk, embed and index raw content",
		Long: `Ingest content straight into the vector and keyword stores without
creating a managed document. Use "ragkb doc create" for versioned documents.

The source id defaults to the file name without extension. Reading from
stdin ("-") requires --source-id.

Examples:
  ragkb ingest handbook.md --org acme
  cat notes.txt | ragkb ingest - --source-id notes --type plain`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 && opts.sourceID != "" {
				return errorf("--source-id applies to a single input")
			}
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				return runIngest(cmd, a, g.jsonOut, args, opts)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.sourceID, "source-id", "", "Document id chunk ids derive from")
	f.StringVar(&opts.name, "name", "", "Source name stored with each chunk")
	f.StringVar(&opts.org, "org", "", "Organization the chunks belong to")
	f.StringVarP(&opts.contentType, "type", "t", "", "Content type: plain, markdown, html, json (default from extension)")
	f.StringToStringVar(&opts.metadata, "meta", nil, "Extra chunk metadata as key=value (repeatable)")
	f.StringVar(&opts.strategy, "strategy", "", "Chunking strategy: recursive, character, sentence")
	f.IntVar(&opts.maxSize, "chunk-size", 0, "Maximum chunk size in characters")
	f.IntVar(&opts.overlap, "overlap", 0, "Characters shared by adjacent chunks")

	return cmd
}

func runIngest(cmd *cobra.Command, a *app, jsonOut bool, args []string, opts ingestOptions) error {
	out := writer(cmd)
	var results []*ingest.Result

	for _, arg := range args {
		content, source, err := readInput(cmd, arg)
		if err != nil {
			return err
		}

		in := ingest.Options{
			OrganizationID: opts.org,
			SourceID:       opts.sourceID,
			SourceName:     opts.name,
			ContentType:    chunk.ContentType(opts.contentType),
			Metadata:       stringMap(opts.metadata),
		}
		if in.SourceID == "" {
			if arg == "-" {
				return errorf("reading stdin requires --source-id")
			}
			in.SourceID, err = documents.NormalizeSlug(strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg)))
			if err != nil {
				return err
			}
		}
		if in.SourceName == "" {
			in.SourceName = source
		}
		if in.ContentType == "" {
			in.ContentType = watcher.ContentTypeForPath(arg)
		}
		if opts.strategy != "" || opts.maxSize > 0 || opts.overlap > 0 {
			in.Chunking = &chunk.Options{
				Strategy: chunk.Strategy(opts.strategy),
				MaxSize:  opts.maxSize,
				Overlap:  opts.overlap,
			}
		}

		// Re-ingesting a shorter version would otherwise leave the old
		// higher-index chunks searchable.
		if _, err := a.pipeline.Remove(cmd.Context(), in.SourceID); err != nil {
			return err
		}
		res, err := a.pipeline.Ingest(cmd.Context(), content, in)
		if err != nil {
			return err
		}
		results = append(results, res)

		if !jsonOut {
			out.Successf("%s: %d chunks", res.DocumentID, res.ChunksIngested)
			if res.Degraded != nil {
				out.Warningf("keyword index not updated: %v", res.Degraded)
			}
		}
	}

	if jsonOut {
		return out.JSON(results)
	}
	return nil
}

func newRemoveCmd(gopts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source-id>",
		Short: "Remove every chunk of an ingested source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), gopts, appOptions{}, func(a *app) error {
				res, err := a.engine.DeleteDocument(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := writer(cmd)
				if gopts.jsonOut {
					return out.JSON(res)
				}
				out.Successf("removed %d vectors and %d keyword rows", res.VectorsDeleted, res.KeywordRowsDeleted)
				if res.Degraded != nil {
					out.Warningf("cleanup incomplete: %v", res.Degraded)
				}
				return nil
			})
		},
	}
}

// readInput returns the content of a file, or stdin for "-".
func readInput(cmd *cobra.Command, arg string) (content, source string, err error) {
	var data []byte
	if arg == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
		source = "stdin"
	} else {
		data, err = os.ReadFile(arg)
		source = filepath.Base(arg)
	}
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", arg, err)
	}
	return string(data), source, nil
}

func stringMap(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
