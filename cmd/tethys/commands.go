package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tethys-ocean/tethys/engine/bootstrap"
	"github.com/tethys-ocean/tethys/engine/catalog"
	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/engine/index"
	"github.com/tethys-ocean/tethys/engine/planner"
	"github.com/tethys-ocean/tethys/engine/profiles"
	"github.com/tethys-ocean/tethys/engine/rag"
	"github.com/tethys-ocean/tethys/pkg/fn"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	warning = color.New(color.FgYellow)
	faint   = color.New(color.Faint)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) askCmd() *cobra.Command {
	var relationalOnly bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the float data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []bootstrap.Option{bootstrap.WithoutNATS()}
			if relationalOnly {
				opts = append(opts, bootstrap.WithoutVectors())
			}
			stack, err := a.stack(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			defer stack.Close()

			resp, err := stack.Service.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&relationalOnly, "relational-only", false, "skip the vector store")
	return cmd
}

func printResponse(w io.Writer, resp *rag.Response) {
	heading.Fprintln(w, "Answer")
	fmt.Fprintln(w, resp.Answer.Text)
	if !resp.Answer.Generated && len(resp.Items) > 0 {
		warning.Fprintf(w, "(fallback: %s)\n", resp.Answer.FallbackKind)
	}
	if len(resp.Answer.Citations) > 0 {
		ids := make([]string, len(resp.Answer.Citations))
		for i, id := range resp.Answer.Citations {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "\n%s %s\n", heading.Sprint("Floats:"), strings.Join(ids, ", "))
	}
	if len(resp.Answer.UnverifiedIDs) > 0 {
		warning.Fprintf(w, "not found in retrieved data: %v\n", resp.Answer.UnverifiedIDs)
	}
	if resp.Degraded {
		warning.Fprintln(w, "\nResults are partial: a data store was unavailable.")
	}
	for _, msg := range resp.Warnings {
		warning.Fprintf(w, "warning: %s\n", msg)
	}
	faint.Fprintf(w, "\n%d item(s), query %s, %s\n", len(resp.Items), resp.QueryID, resp.Took.Round(1e6))
}

func (a *app) planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [question]",
		Short: "Show the query plan for a question without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := rag.PlanQuestion(planner.New(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
}

func (a *app) loadCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "load [file.csv...]",
		Short: "Load ARGO CSV exports into the profiles table and the float catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.stack(cmd.Context(), bootstrap.WithoutVectors(), bootstrap.WithoutNATS())
			if err != nil {
				return err
			}
			defer stack.Close()

			var upsert func(context.Context, ...catalog.Float) error
			if stack.Catalog != nil {
				upsert = stack.Catalog.Upsert
			}
			for _, path := range args {
				n, floats, err := loadFile(cmd.Context(), stack.Profiles, upsert, path, batchSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d record(s), %d float(s)\n", color.GreenString("loaded"), path, n, floats)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 500, "records per insert transaction")
	return cmd
}

// catalogBatch bounds the floats merged per catalog transaction.
const catalogBatch = 500

type inserter interface {
	Insert(ctx context.Context, recs []domain.FloatRecord) (int, error)
}

func loadFile(ctx context.Context, store inserter, upsert func(context.Context, ...catalog.Float) error, path string, batchSize int) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("load: %w", err)
	}
	defer f.Close()
	return load(ctx, store, upsert, f, batchSize)
}

// load inserts CSV records in batches and, when upsert is set, records the
// latest cycle of every float in the catalog.
func load(ctx context.Context, store inserter, upsert func(context.Context, ...catalog.Float) error, r io.Reader, batchSize int) (int, int, error) {
	cr, err := profiles.NewCSVReader(r)
	if err != nil {
		return 0, 0, err
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	var (
		total  int
		batch  []domain.FloatRecord
		latest = map[int]domain.FloatRecord{}
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := store.Insert(ctx, batch)
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, len(latest), err
		}
		batch = append(batch, rec)
		if cur, ok := latest[rec.Platform]; !ok || rec.Time.After(cur.Time) {
			latest[rec.Platform] = rec
		}
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, len(latest), err
			}
		}
	}
	if err := flush(); err != nil {
		return total, len(latest), err
	}

	if upsert != nil && len(latest) > 0 {
		recs := make([]domain.FloatRecord, 0, len(latest))
		for _, rec := range latest {
			recs = append(recs, rec)
		}
		for _, part := range fn.Chunk(catalog.FromRecords(recs), catalogBatch) {
			if err := upsert(ctx, part...); err != nil {
				return total, len(latest), fmt.Errorf("load: catalog: %w", err)
			}
		}
	}
	return total, len(latest), nil
}

func (a *app) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Embed a summary of every profile into the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := a.stack(cmd.Context(), bootstrap.WithoutNATS())
			if err != nil {
				return err
			}
			defer stack.Close()

			opts := index.Options{
				BatchSize: stack.Config.Index.BatchSize,
				EmbedRPS:  stack.Config.Index.EmbedRPS,
				Dimension: stack.Config.Qdrant.Dimension,
			}
			stats, err := index.New(stack.Profiles, stack.Model, stack.Vectors, opts, stack.Log).Run(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d profile(s) from %d record(s) in %d batch(es), %s\n",
				color.GreenString("indexed"), stats.Profiles, stats.Records, stats.Batches, stats.Duration.Round(1e6))
			return nil
		},
	}
}

func (a *app) sqlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql [statement]",
		Short: "Run a read-only SELECT against the profiles table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			store, err := profiles.Open(cmd.Context(), cfg.SQLite.Path, profiles.ReadOnly(), profiles.WithLogger(a.logger(cfg)))
			if err != nil {
				return err
			}
			defer store.Close()

			table, err := store.RawSelect(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(cmd.OutOrStdout(), table)
			}
			printTable(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func printTable(w io.Writer, t *profiles.Table) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, heading.Sprint(strings.Join(t.Columns, "\t")))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	faint.Fprintf(w, "%d row(s)\n", len(t.Rows))
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the profiles schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			store, err := profiles.Open(cmd.Context(), cfg.SQLite.Path, profiles.WithLogger(a.logger(cfg)))
			if err != nil {
				return err
			}
			defer store.Close()

			v, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s at schema version %d\n", color.GreenString("migrated"), cfg.SQLite.Path, v)
			return nil
		},
	}
}

func (a *app) floatsCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "floats",
		Short: "List floats and project counts from the mission catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := a.stack(cmd.Context(), bootstrap.WithoutVectors(), bootstrap.WithoutNATS())
			if err != nil {
				return err
			}
			defer stack.Close()
			if stack.Catalog == nil {
				return errors.New("mission catalog disabled (set neo4j.enabled)")
			}

			floats, err := stack.Catalog.List(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			counts, err := stack.Catalog.ProjectCounts(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"floats": floats, "projects": counts})
			}
			printFloats(cmd.OutOrStdout(), floats, counts)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many floats")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum floats to list")
	return cmd
}

func printFloats(w io.Writer, floats []catalog.Float, counts map[string]int64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, heading.Sprint("wmo\tproject\tstatus\tlast_cycle\tlast_seen"))
	for _, f := range floats {
		seen := ""
		if !f.LastSeen.IsZero() {
			seen = f.LastSeen.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", f.WMO, f.Project, f.Status, f.LastCycle, seen)
	}
	tw.Flush()

	projects := make([]string, 0, len(counts))
	for p := range counts {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		faint.Fprintf(w, "%s: %d float(s)\n", p, counts[p])
	}
}
