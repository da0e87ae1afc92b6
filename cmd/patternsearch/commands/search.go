package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/patternsearch/pkg/ingest"
	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/types"
)

type searchFlags struct {
	patternFile    string
	patternStart   string
	patternEnd     string
	patternSources []string
	start          string
	end            string
	step           int
	asJSON         bool
	quiet          bool
}

func newSearchCommand(a *app) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Rank archived intervals by their similarity to a pattern",
		Long: `Rank the intervals between --start and --end by their DTW distance
to a pattern. The pattern is either read from a YAML file with
--pattern-file or cut out of the archive with --pattern-start,
--pattern-end and one --pattern-source per source.

Sources are written as name or name:feature1,feature2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.search(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), &f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.patternFile, "pattern-file", "", "YAML pattern file")
	fs.StringVar(&f.patternStart, "pattern-start", "", "start of the archived pattern (RFC 3339)")
	fs.StringVar(&f.patternEnd, "pattern-end", "", "end of the archived pattern (RFC 3339)")
	fs.StringArrayVar(&f.patternSources, "pattern-source", nil, "source of the archived pattern (repeatable)")
	fs.StringVar(&f.start, "start", "", "start of the searched range (RFC 3339)")
	fs.StringVar(&f.end, "end", "", "end of the searched range (RFC 3339)")
	fs.IntVar(&f.step, "step", 0, "rows between window anchors (default a third of the pattern)")
	fs.BoolVar(&f.asJSON, "json", false, "print JSON")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "do not report progress")

	fs.Duration("resolution", 0, "resampling resolution")
	fs.Int("results", 0, "number of matches to return")
	fs.Int("workers", 0, "concurrent window evaluations")
	fs.Bool("exact", true, "use exact DTW when the backend can afford it")
	bindFlags(a.v, fs, map[string]string{
		"search.resolution":  "resolution",
		"search.result_size": "results",
		"search.workers":     "workers",
		"search.exact_dtw":   "exact",
	})

	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	cmd.MarkFlagsMutuallyExclusive("pattern-file", "pattern-start")
	cmd.MarkFlagsRequiredTogether("pattern-start", "pattern-end", "pattern-source")
	cmd.MarkFlagsOneRequired("pattern-file", "pattern-start")
	return cmd
}

func (a *app) search(ctx context.Context, out, progress io.Writer, f *searchFlags) error {
	start, err := parseTime("start", f.start)
	if err != nil {
		return err
	}
	end, err := parseTime("end", f.end)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	pattern, err := a.loadPattern(ctx, store, f)
	if err != nil {
		return err
	}

	opts := []search.QueryOption{search.WithResultSize(a.cfg.Search.ResultSize)}
	if f.step > 0 {
		opts = append(opts, search.WithStep(f.step))
	}
	query, err := search.NewSearchQuery(pattern, start, end, a.cfg.Search.Resolution, opts...)
	if err != nil {
		return err
	}

	searchOpts := a.cfg.ToSearchOptions(a.logger)
	if !f.quiet && !f.asJSON {
		searchOpts.Sink = search.WriterSink{W: progress}
	}

	result, err := search.NewSearcher(store, searchOpts).Search(ctx, query)
	if err != nil {
		return err
	}

	if f.asJSON {
		return writeJSON(out, result)
	}
	renderResult(out, result)
	return nil
}

func (a *app) loadPattern(ctx context.Context, reader search.Reader, f *searchFlags) ([]types.SourceSeries, error) {
	if f.patternFile != "" {
		return ingest.LoadPattern(f.patternFile)
	}

	start, err := parseTime("pattern-start", f.patternStart)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("pattern-end", f.patternEnd)
	if err != nil {
		return nil, err
	}
	sources, err := types.ParseSelectors(f.patternSources)
	if err != nil {
		return nil, err
	}
	return search.PatternFromRange(ctx, reader, start, end, sources)
}

func parseTime(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return t, nil
}
