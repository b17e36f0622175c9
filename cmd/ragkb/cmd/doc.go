package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/documents"
	"github.com/Aman-CERP/ragkb/internal/output"
	"github.com/Aman-CERP/ragkb/internal/store"
	"github.com/Aman-CERP/ragkb/internal/watcher"
)

func newDocCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Manage versioned documents",
		Long: `Create, update and delete documents. Content changes bump the version
and keep the previous content as a snapshot. Embedding runs in the
background; the command waits for queued embeddings before exiting.`,
	}
	cmd.AddCommand(
		newDocCreateCmd(g),
		newDocUpdateCmd(g),
		newDocDeleteCmd(g),
		newDocGetCmd(g),
		newDocListCmd(g),
		newDocSearchCmd(g),
		newDocReembedCmd(g),
		newDocVersionsCmd(g),
	)
	return cmd
}

// docFields are the descriptive flags shared by create and update.
type docFields struct {
	name        string
	description string
	category    string
	tags        []string
	metadata    map[string]string
	workspace   string
	file        string
	content     string
	contentType string
	author      string
}

func (d *docFields) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&d.name, "name", "", "Display name")
	f.StringVar(&d.description, "description", "", "Short description")
	f.StringVar(&d.category, "category", "", "Category")
	f.StringSliceVar(&d.tags, "tags", nil, "Comma separated tags")
	f.StringToStringVar(&d.metadata, "meta", nil, "Metadata key=value (repeatable)")
	f.StringVar(&d.workspace, "workspace", "", "Workspace id")
	f.StringVarP(&d.file, "file", "f", "", "Read content from file, or - for stdin")
	f.StringVar(&d.content, "content", "", "Inline content")
	f.StringVarP(&d.contentType, "type", "t", "", "Content type: plain, markdown, html, json")
	f.StringVar(&d.author, "author", "", "Recorded as created_by / updated_by")
}

// body returns the content from --file or --content. ok is false when
// neither was given.
func (d *docFields) body(cmd *cobra.Command) (content string, ok bool, err error) {
	switch {
	case d.file != "" && d.content != "":
		return "", false, errorf("use either --file or --content, not both")
	case d.file != "":
		content, _, err = readInput(cmd, d.file)
		return content, err == nil, err
	case cmd.Flags().Changed("content"):
		return d.content, true, nil
	default:
		return "", false, nil
	}
}

func newDocCreateCmd(g *globalOptions) *cobra.Command {
	var (
		d          docFields
		slug       string
		org        string
		onConflict string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document",
		Long: `Create a document and queue it for embedding.

The slug defaults to the normalized name. When the slug already exists,
--on-conflict decides: error (default), skip, or update.

Examples:
  ragkb doc create --name "Customer Handbook" -f handbook.md
  ragkb doc create --name faq --content "Q: ..." --on-conflict update --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, ok, err := d.body(cmd)
			if err != nil {
				return err
			}
			if !ok {
				return errorf("content is required: pass --file or --content")
			}
			ct := chunk.ContentType(d.contentType)
			if ct == "" && d.file != "" && d.file != "-" {
				ct = watcher.ContentTypeForPath(d.file)
			}

			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				doc, err := a.manager.Create(cmd.Context(), documents.CreateInput{
					Slug:           slug,
					Name:           d.name,
					Description:    d.description,
					Content:        content,
					ContentType:    ct,
					Category:       d.category,
					Tags:           d.tags,
					Metadata:       stringMap(d.metadata),
					OrganizationID: org,
					WorkspaceID:    d.workspace,
					CreatedBy:      d.author,
					OnConflict:     documents.ConflictPolicy(onConflict),
				})
				if err != nil {
					return err
				}
				if wait {
					if doc, err = waitForEmbedding(cmd.Context(), a, doc.ID); err != nil {
						return err
					}
				}
				return printDocument(cmd, g, doc, false)
			})
		},
	}
	d.register(cmd)
	f := cmd.Flags()
	f.StringVar(&slug, "slug", "", "Slug (default derived from --name)")
	f.StringVar(&org, "org", "", "Organization id")
	f.StringVar(&onConflict, "on-conflict", "", "error, skip or update when the slug exists")
	f.BoolVar(&wait, "wait", false, "Wait for embedding and print the final state")
	return cmd
}

func newDocUpdateCmd(g *globalOptions) *cobra.Command {
	var (
		d       docFields
		summary string
	)

	cmd := &cobra.Command{
		Use:   "update <id|slug>",
		Short: "Update a document",
		Long: `Update descriptive fields and, optionally, the content. A content change
re-embeds synchronously, bumps the version and snapshots the old content.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := documents.UpdateInput{ChangeSummary: summary, UpdatedBy: d.author}
			f := cmd.Flags()
			if f.Changed("name") {
				in.Name = &d.name
			}
			if f.Changed("description") {
				in.Description = &d.description
			}
			if f.Changed("category") {
				in.Category = &d.category
			}
			if f.Changed("workspace") {
				in.WorkspaceID = &d.workspace
			}
			if f.Changed("tags") {
				in.Tags = d.tags
			}
			if f.Changed("meta") {
				in.Metadata = stringMap(d.metadata)
			}
			if f.Changed("type") {
				ct := chunk.ContentType(d.contentType)
				in.ContentType = &ct
			}
			content, ok, err := d.body(cmd)
			if err != nil {
				return err
			}
			if ok {
				in.Content = &content
			}

			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				doc, err := a.manager.Update(cmd.Context(), args[0], in)
				if err != nil {
					return err
				}
				return printDocument(cmd, g, doc, false)
			})
		},
	}
	d.register(cmd)
	cmd.Flags().StringVar(&summary, "summary", "", "Change summary stored with the snapshot")
	return cmd
}

func newDocDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|slug>",
		Short: "Delete a document, its chunks and its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				if err := a.manager.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				out := writer(cmd)
				if g.jsonOut {
					return out.JSON(map[string]any{"deleted": args[0]})
				}
				out.Successf("deleted %s", args[0])
				return nil
			})
		},
	}
}

func newDocGetCmd(g *globalOptions) *cobra.Command {
	var withContent bool
	cmd := &cobra.Command{
		Use:   "get <id|slug|name>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				doc, err := a.manager.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDocument(cmd, g, doc, withContent)
			})
		},
	}
	cmd.Flags().BoolVar(&withContent, "content", false, "Print the content")
	return cmd
}

func newDocListCmd(g *globalOptions) *cobra.Command {
	var filter store.DocumentFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				docs, err := a.manager.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := writer(cmd)
				if g.jsonOut {
					return out.JSON(docs)
				}
				out.DocumentList(docs)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.OrganizationID, "org", "", "Organization id")
	f.StringVar(&filter.WorkspaceID, "workspace", "", "Workspace id")
	f.StringVar(&filter.Category, "category", "", "Category")
	f.StringVar(&filter.Tag, "tag", "", "Tag")
	f.IntVar(&filter.Limit, "limit", 50, "Maximum documents")
	f.IntVar(&filter.Offset, "offset", 0, "Documents to skip")
	return cmd
}

func newDocSearchCmd(g *globalOptions) *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "search <id|slug> <query>",
		Short: "Query within one document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				results, err := a.manager.Search(cmd.Context(), args[0], text, q.options(cmd, a))
				if err != nil {
					return err
				}
				out := writer(cmd)
				if g.jsonOut {
					return out.JSON(results)
				}
				out.Results(results)
				return nil
			})
		},
	}
	q.register(cmd)
	return cmd
}

func newDocReembedCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reembed <id|slug>",
		Short: "Rebuild a document's chunks and vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				doc, err := a.manager.Reembed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printDocument(cmd, g, doc, false)
			})
		},
	}
}

func newDocVersionsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <id|slug>",
		Short: "List superseded versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), g, appOptions{}, func(a *app) error {
				versions, err := a.manager.Versions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := writer(cmd)
				if g.jsonOut {
					return out.JSON(versions)
				}
				out.Versions(versions)
				return nil
			})
		},
	}
}

func printDocument(cmd *cobra.Command, g *globalOptions, doc *store.Document, withContent bool) error {
	out := writer(cmd)
	if g.jsonOut {
		return out.JSON(doc)
	}
	out.Document(doc, withContent)
	return nil
}

// waitForEmbedding polls until the background embedding for id settles.
func waitForEmbedding(ctx context.Context, a *app, id string) (*store.Document, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		doc, err := a.manager.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if output.EmbedState(doc) != "pending" {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
