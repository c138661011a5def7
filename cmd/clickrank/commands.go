package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ricesearch/clickrank/internal/evaluation"
	"github.com/ricesearch/clickrank/internal/events"
	"github.com/ricesearch/clickrank/internal/normalize"
	"github.com/ricesearch/clickrank/internal/pipeline"
	"github.com/ricesearch/clickrank/internal/pkg/hash"
	"github.com/ricesearch/clickrank/internal/ranking"
	"github.com/ricesearch/clickrank/internal/sdbn"
	"github.com/ricesearch/clickrank/internal/session"
	"github.com/ricesearch/clickrank/internal/store"
)

// withApp runs fn with a configured app and a context cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		return fn(ctx, cmd, a)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := args[0]
			return withApp(func(_ context.Context, cmd *cobra.Command, a *app) error {
				steps, _ := cmd.Flags().GetInt("steps")
				if err := store.Migrate(a.cfg.Database.URL, direction, steps); err != nil {
					return err
				}
				a.log.Info("Migration complete", "direction", direction, "steps", steps)
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().Int("steps", 0, "number of migrations to apply (0 = all)")

	return cmd
}

func loadSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load-sessions",
		Short: "Segment search events into sessions and store them as a dataset",
		Long: `Read impression and click events, build one summary per
(session, search term) and store the summaries under a new dataset name.

Sessions without clicks, or whose impressions above the final click are
incomplete, are discarded and counted.`,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app) error {
			dataset, _ := cmd.Flags().GetString("dataset")
			source, _ := cmd.Flags().GetString("source")
			file, _ := cmd.Flags().GetString("file")

			observations, err := readObservations(ctx, a, source, file)
			if err != nil {
				return err
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			res, err := a.pipeline(st).LoadSessions(ctx, dataset, observations)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), a.format, res, func(w io.Writer) {
				fmt.Fprintf(w, "dataset %s (id %d): %d sessions stored from %d observations\n",
					dataset, res.DatasetID, res.Sessions, res.Observations)
				for _, reason := range slices.Sorted(maps.Keys(res.Rejections)) {
					fmt.Fprintf(w, "  rejected %-20s %d\n", reason, res.Rejections[reason])
				}
			})
		}),
	}

	cmd.Flags().String("dataset", "", "dataset name (required)")
	cmd.Flags().String("source", "csv", "event source (csv, kafka)")
	cmd.Flags().String("file", "", "events CSV file (csv source)")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func readObservations(ctx context.Context, a *app, source, file string) ([]session.Observation, error) {
	switch source {
	case "csv":
		if file == "" {
			return nil, fmt.Errorf("--file is required for the csv source")
		}
		obs, err := events.CSVSource{Path: file}.Read(ctx)
		if err != nil {
			return nil, err
		}
		a.metrics.ObserveRead("csv", len(obs), 0)
		return obs, nil

	case "kafka":
		src, err := events.NewKafkaSource(events.KafkaConfig{
			Brokers:  events.ParseKafkaBrokers(a.cfg.Kafka.Brokers),
			Topic:    a.cfg.Kafka.Topic,
			ClientID: a.cfg.Kafka.ClientID,
			Version:  a.cfg.Kafka.Version,
		}, a.log)
		if err != nil {
			return nil, err
		}
		defer src.Close()

		obs, err := src.Read(ctx)
		if err != nil {
			return nil, err
		}
		a.metrics.ObserveRead("kafka", len(obs), src.Skipped())
		return obs, nil

	default:
		return nil, fmt.Errorf("unknown source %q (must be csv or kafka)", source)
	}
}

func importContentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-content",
		Short: "Import document titles used to label rankings",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app) error {
			file, _ := cmd.Flags().GetString("file")

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open content file: %w", err)
			}
			defer f.Close()

			items, err := store.ReadContentItems(f)
			if err != nil {
				return err
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := st.SaveContentItems(ctx, items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d content items\n", len(items))
			return nil
		}),
	}

	cmd.Flags().String("file", "", "CSV with content_id, base_path, title columns (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the relevance model on a dataset's training split",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app) error {
			dataset, _ := cmd.Flags().GetString("dataset")
			output, _ := cmd.Flags().GetString("output")

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			p := a.pipeline(st)
			prep, err := p.Prepare(ctx, dataset)
			if err != nil {
				return err
			}
			model, err := p.Train(prep)
			if err != nil {
				return err
			}

			if err := model.SaveFile(output); err != nil {
				return err
			}
			fp, err := hash.Fingerprint(output)
			if err != nil {
				return err
			}
			a.log.Info("Saved model",
				"path", output,
				"fingerprint", fp,
				"rows", model.Len(),
				"queries", len(model.Queries()),
			)
			return nil
		}),
	}

	cmd.Flags().String("dataset", "", "dataset name (required)")
	cmd.Flags().StringP("output", "o", "", "model parameter file to write (required)")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Replay a dataset's test split against a trained model",
		Long: `Re-rank every held-out session by the model's relevance and report
how many clicks the user would have saved and how far the final click moved.
The split uses the same seed as train, so the test sessions were never seen
during training.`,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app) error {
			dataset, _ := cmd.Flags().GetString("dataset")
			modelPath, _ := cmd.Flags().GetString("model")
			report, _ := cmd.Flags().GetString("report")

			model, err := sdbn.LoadFile(modelPath, sdbn.WithLogger(a.log))
			if err != nil {
				return err
			}
			fp, err := hash.Fingerprint(modelPath)
			if err != nil {
				return err
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			p := a.pipeline(st)
			prep, err := p.Prepare(ctx, dataset)
			if err != nil {
				return err
			}
			run, err := p.Evaluate(ctx, model, prep.Test)
			if err != nil {
				return err
			}

			if report != "" {
				if err := writeReportFile(report, run.Results); err != nil {
					return err
				}
			}
			return printSummary(cmd.OutOrStdout(), a.format, run, fp)
		}),
	}

	cmd.Flags().String("dataset", "", "dataset name (required)")
	cmd.Flags().StringP("model", "m", "", "model parameter file (required)")
	cmd.Flags().String("report", "", "per-session CSV report to write")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func rankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank QUERY",
		Short: "Show a trained model's ranking for a search term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			return withApp(func(ctx context.Context, cmd *cobra.Command, a *app) error {
				modelPath, _ := cmd.Flags().GetString("model")
				withTitles, _ := cmd.Flags().GetBool("titles")
				limit, _ := cmd.Flags().GetInt("limit")

				model, err := sdbn.LoadFile(modelPath, sdbn.WithLogger(a.log))
				if err != nil {
					return err
				}

				if a.cfg.Load.Normalise {
					query = normalize.SearchTerm(query)
				}

				var titles map[string]string
				if withTitles {
					st, err := a.openStore(ctx)
					if err != nil {
						return err
					}
					if titles, err = st.GetContentMetadata(ctx); err != nil {
						return err
					}
				}

				rows := rankedRows(model.Relevance(query), titles, limit)
				if len(rows) == 0 {
					a.log.Warn("Query not in model", "search_term", query)
				}
				return printOutput(cmd.OutOrStdout(), a.format, rows, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "RANK\tDOCUMENT\tSCORE\tTITLE")
					for _, r := range rows {
						fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", r.Rank, r.DocumentID, r.Score, r.Title)
					}
					tw.Flush()
				})
			})(cmd, args)
		},
	}

	cmd.Flags().StringP("model", "m", "", "model parameter file (required)")
	cmd.Flags().Bool("titles", false, "label documents with imported content titles")
	cmd.Flags().IntP("limit", "n", 20, "maximum documents to show (0 = all)")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

type rankedRow struct {
	Rank       int     `json:"rank"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Title      string  `json:"title,omitempty"`
}

func rankedRows(docs []ranking.ScoredDocument, titles map[string]string, limit int) []rankedRow {
	ranks := ranking.CompetitionRank(docs)
	rows := make([]rankedRow, 0, len(docs))
	for _, d := range docs {
		if limit > 0 && len(rows) == limit {
			break
		}
		rows = append(rows, rankedRow{
			Rank:       ranks[d.DocumentID],
			DocumentID: d.DocumentID,
			Score:      d.Score,
			Title:      titles[d.DocumentID],
		})
	}
	return rows
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load, split, train and evaluate in one process",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app) error {
			file, _ := cmd.Flags().GetString("file")
			source, _ := cmd.Flags().GetString("source")
			dataset, _ := cmd.Flags().GetString("dataset")
			output, _ := cmd.Flags().GetString("output")
			report, _ := cmd.Flags().GetString("report")

			observations, err := readObservations(ctx, a, source, file)
			if err != nil {
				return err
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			res, err := a.pipeline(st).Run(ctx, dataset, observations)
			if err != nil {
				return err
			}

			var fp string
			if output != "" {
				if err := res.Model.SaveFile(output); err != nil {
					return err
				}
				if fp, err = hash.Fingerprint(output); err != nil {
					return err
				}
			}
			if report != "" {
				if err := writeReportFile(report, res.Evaluation.Results); err != nil {
					return err
				}
			}
			return printSummary(cmd.OutOrStdout(), a.format, res.Evaluation, fp)
		}),
	}

	cmd.Flags().String("source", "csv", "event source (csv, kafka)")
	cmd.Flags().String("file", "", "events CSV file (csv source)")
	cmd.Flags().String("dataset", "run", "dataset name")
	cmd.Flags().StringP("output", "o", "", "model parameter file to write")
	cmd.Flags().String("report", "", "per-session CSV report to write")

	return cmd
}

func writeReportFile(path string, results []evaluation.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := evaluation.WriteReport(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printSummary reports an evaluation run. model is the fingerprint of the
// scored parameter file, empty when the model was never written.
func printSummary(w io.Writer, format string, run *pipeline.EvaluationRun, model string) error {
	s := run.Summary
	return printOutput(w, format, struct {
		RunID string `json:"run_id"`
		Model string `json:"model,omitempty"`
		*evaluation.Summary
	}{run.RunID, model, s}, func(w io.Writer) {
		fmt.Fprintf(w, "run %s\n", run.RunID)
		if model != "" {
			fmt.Fprintf(w, "  model:                 %s\n", model)
		}
		fmt.Fprintf(w, "  sessions:              %d (%d evaluated)\n", s.Sessions, s.Evaluated)
		fmt.Fprintf(w, "  saved clicks:          mean %.3f, median %.1f\n", s.MeanSavedClicks, s.MedianSavedClicks)
		fmt.Fprintf(w, "  change in rank:        mean %.3f, median %.1f\n", s.MeanChangeInRank, s.MedianChangeInRank)
		fmt.Fprintf(w, "  weighted change:       mean %.3f\n", s.MeanWeightedChangeInRank)
		fmt.Fprintf(w, "  final click MRR:       %.4f -> %.4f\n", s.OldMRR, s.NewMRR)
	})
}

// printOutput writes v as JSON, or calls text for the text format.
func printOutput(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
