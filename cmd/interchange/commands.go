package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/openclaw/interchange/internal"
	"github.com/openclaw/interchange/pkg/frontmatter"
	"github.com/openclaw/interchange/pkg/interchange"
	"github.com/openclaw/interchange/pkg/ledger"
	"github.com/openclaw/interchange/pkg/reconcile"
)

// session is the per-invocation store and config shared by the subcommands.
type session struct {
	cfg   *internal.Config
	store *interchange.Store
}

func openSession(cmd *cli.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := internal.NewStore(cfg, internal.NewLogger(cfg.App.LogLevel), nil)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, store: store}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s: missing <%s> argument", cmd.Name, name)
	}
	return v, nil
}

type readOutput struct {
	Path      string           `json:"path"`
	Meta      frontmatter.Meta `json:"meta"`
	HasHeader bool             `json:"has_header"`
	Stale     bool             `json:"stale"`
	Content   string           `json:"content"`
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Print a document's header and body as JSON",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "body", Usage: "print only the markdown body"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := requireArg(cmd, "path")
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			doc, err := s.store.Read(path)
			if err != nil {
				return err
			}
			if cmd.Bool("body") {
				_, err := io.WriteString(os.Stdout, doc.Content)
				return err
			}
			return printJSON(os.Stdout, readOutput{
				Path:      s.store.Rel(doc.Path),
				Meta:      doc.Meta,
				HasHeader: doc.HasHeader,
				Stale:     s.store.IsStale(doc.Path),
				Content:   doc.Content,
			})
		},
	}
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Atomically write a document; the body is read from --file or stdin",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "skill", Usage: "owning skill", Required: true},
			&cli.StringFlag{Name: "type", Usage: "summary, detail or alert", Value: frontmatter.TypeSummary},
			&cli.StringFlag{Name: "layer", Usage: "ops or state", Value: frontmatter.LayerOps},
			&cli.StringFlag{Name: "name", Usage: "document name under <skill>/<layer>/ when no path is given"},
			&cli.StringFlag{Name: "generator", Usage: "producer identifier (defaults to the configured generator)"},
			&cli.StringSliceFlag{Name: "tag", Usage: "tag to attach (repeatable)"},
			&cli.IntFlag{Name: "ttl", Usage: "freshness window in seconds"},
			&cli.IntFlag{Name: "version", Usage: "schema version", Value: 1},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the body from this file instead of stdin"},
			&cli.BoolFlag{Name: "force", Usage: "write even when the content is unchanged"},
			&cli.BoolFlag{Name: "skip-validation", Usage: "write without checking the header schema"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}

			path := cmd.Args().First()
			if path == "" {
				name := cmd.String("name")
				if name == "" {
					return errors.New("write: give a <path> argument or --name")
				}
				path = s.store.DocPath(cmd.String("skill"), cmd.String("layer"), interchange.Slugify(name))
			}

			body, err := readBody(cmd.String("file"))
			if err != nil {
				return err
			}

			generator := cmd.String("generator")
			if generator == "" {
				generator = s.cfg.Interchange.Generator
			}
			meta := frontmatter.Meta{
				Skill:     cmd.String("skill"),
				Type:      cmd.String("type"),
				Layer:     cmd.String("layer"),
				Version:   int(cmd.Int("version")),
				Generator: generator,
				Tags:      cmd.StringSlice("tag"),
			}
			if cmd.IsSet("ttl") {
				ttl := int(cmd.Int("ttl"))
				meta.TTL = &ttl
			}

			opts := interchange.WriteOptions{
				Force:          cmd.Bool("force"),
				SkipValidation: cmd.Bool("skip-validation"),
			}
			if err := s.store.Write(ctx, path, meta, body, opts); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, s.store.Rel(path))
			return nil
		},
	}
}

func readBody(file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("write: read body: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("write: read stdin: %w", err)
	}
	return string(data), nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List documents with their type, layer and age",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "skill", Usage: "only this skill"},
			&cli.StringFlag{Name: "layer", Usage: "only this layer"},
			&cli.BoolFlag{Name: "paths", Usage: "print bare paths only"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			paths, err := s.store.List(cmd.String("skill"), cmd.String("layer"))
			if err != nil {
				return err
			}
			if cmd.Bool("paths") {
				for _, p := range paths {
					fmt.Fprintln(os.Stdout, p)
				}
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tTYPE\tLAYER\tUPDATED\tSTALE")
			for _, p := range paths {
				typ, layer, updated := "unknown", "unknown", "unknown"
				if doc, err := s.store.Read(p); err == nil {
					typ, layer = orDash(doc.Meta.Type), orDash(doc.Meta.Layer)
					if !doc.Meta.Updated.IsZero() {
						updated = interchange.RelativeTime(doc.Meta.Updated.Time)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.store.Rel(p), typ, layer, updated, s.store.IsStale(p))
			}
			fmt.Fprintf(tw, "\n%s documents\n", humanize.Comma(int64(len(paths))))
			return tw.Flush()
		},
	}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func staleCommand() *cli.Command {
	return &cli.Command{
		Name:      "stale",
		Usage:     "Report whether a document has outlived its ttl",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "exit-code", Usage: "exit with status 1 when the document is stale"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := requireArg(cmd, "path")
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			stale := s.store.IsStale(path)
			if stale {
				fmt.Fprintln(os.Stdout, "stale")
			} else {
				fmt.Fprintln(os.Stdout, "fresh")
			}
			if stale && cmd.Bool("exit-code") {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func rebuildCommand() *cli.Command {
	return &cli.Command{
		Name:      "rebuild-index",
		Usage:     "Rebuild one skill's index, or every index and the master index",
		ArgsUsage: "[skill]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			b := internal.NewBuilder(s.cfg, s.store, internal.NewLogger(s.cfg.App.LogLevel))
			return b.Rebuild(ctx, cmd.Args().First())
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Diff the ledger's content hashes against a skill's documents",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "skill", Usage: "skill whose documents are compared", Required: true},
			&cli.StringFlag{Name: "layer", Usage: "only this layer"},
			&cli.StringFlag{Name: "ledger", Usage: "ledger database path (overrides config)"},
			&cli.BoolFlag{Name: "record", Usage: "make the ledger mirror the on-disk hashes after diffing (the ledger is assumed to track only --skill)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			dsn := cmd.String("ledger")
			if dsn == "" {
				dsn = s.cfg.Ledger.Path
			}
			db, err := ledger.Open(dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			external, err := db.Snapshot()
			if err != nil {
				return err
			}
			onDisk, err := reconcile.FromDisk(s.store, cmd.String("skill"), cmd.String("layer"), nil)
			if err != nil {
				return err
			}
			result := reconcile.Diff(external, onDisk)

			if cmd.Bool("record") {
				if err := record(db, onDisk, result.Added); err != nil {
					return err
				}
			}
			return printJSON(os.Stdout, result)
		},
	}
}

// record makes the ledger mirror onDisk: every on-disk descriptor is upserted
// and ids that exist only in the ledger are dropped.
func record(db *ledger.DB, onDisk []reconcile.Descriptor, ledgerOnly []string) error {
	entries := make([]ledger.Entry, 0, len(onDisk))
	for _, d := range onDisk {
		entries = append(entries, ledger.Entry{ID: d.ID, ContentHash: d.ContentHash})
	}
	if err := db.PutAll(entries); err != nil {
		return err
	}
	for _, id := range ledgerOnly {
		if err := db.Delete(id); err != nil {
			return err
		}
	}
	return nil
}
