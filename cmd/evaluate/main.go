// Command evaluate replays the configured rating source through the
// time-based evaluation harness. In "search" mode it picks the SVD rank with
// the lowest validation error and scores it on the test partitions; in
// "score" mode it scores the configured algorithm directly.
//
// SVD builds factorize a dense users×items copy of the rating matrix, so the
// usable dataset size is bounded by memory: engine.svd.max_cells (default
// 200M cells, about 1.6 GB) rejects larger builds. MovieLens 100K and 1M fit;
// for 10M or 20M lower --limit or raise max_cells on a large machine.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temcen/recengine/internal/app"
	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/database"
	"github.com/temcen/recengine/internal/engine"
	"github.com/temcen/recengine/internal/evaluation"
	"github.com/temcen/recengine/internal/services"
)

var (
	scorers      = []evaluation.Scorer{evaluation.SquaredError, evaluation.AbsoluteError}
	scorerNames  = []string{"MSE", "MAE"}
	rankingNames = []string{"HitRate", "NDCG"}
)

func main() {
	flags := pflag.NewFlagSet("evaluate", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	mode := flags.String("mode", "search", "search: SVD rank search then test; score: evaluate the configured algorithm")
	flags.String("algorithm", "svd", "algorithm evaluated in score mode")
	flags.String("loader", "movielens", "rating source: movielens, postgres or neo4j")
	flags.String("data", "data/movielens", "MovieLens directory")
	flags.Int("limit", 1000000, "maximum number of ratings read; SVD memory grows with users×items, see --max-cells")
	flags.Int("max-cells", engine.DefaultMaxCells, "largest users×items matrix an SVD build accepts, 0 for no limit")
	flags.Int("top-n", 5, "recommendation list length for ranking metrics")
	flags.Bool("online-updates", false, "run the online update step after every replayed event")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage of evaluate:")
		flags.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nSVD builds hold a dense users×items float64 matrix in memory. The default")
		fmt.Fprintln(os.Stderr, "--max-cells (200M cells, about 1.6 GB) fits MovieLens 100K and 1M; for 10M or")
		fmt.Fprintln(os.Stderr, "20M lower --limit or raise --max-cells on a machine with enough memory.")
	}
	_ = flags.Parse(os.Args[1:])

	bindings := map[string]string{
		"engine.algorithm":                  "algorithm",
		"loader.type":                       "loader",
		"loader.path":                       "data",
		"loader.limit":                      "limit",
		"engine.svd.max_cells":              "max-cells",
		"evaluation.options.top_n":          "top-n",
		"evaluation.options.online_updates": "online-updates",
	}

	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind flag %s: %v\n", name, err)
			os.Exit(2)
		}
	}
	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.SetupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, logger); err != nil {
		logger.WithError(err).Fatal("Evaluation failed")
	}
}

func run(ctx context.Context, cfg *config.Config, mode string, logger *logrus.Logger) error {
	db, err := database.New(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := services.NewLoader(cfg, db, logger)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("%w: evaluation needs a rating source", engine.ErrInvalidConfiguration)
	}

	ev, err := evaluation.NewTimeBasedEvaluator(ctx, src, cfg.Evaluation.Partitions, cfg.Evaluation.Options, logger)
	if err != nil {
		return err
	}

	train := cfg.Evaluation.TrainPartitions
	test := cfg.Evaluation.TestPartitions

	newEngine := func() (engine.Engine, error) { return services.NewEngine(cfg.Engine, logger) }

	switch mode {
	case "score":
	case "search":
		best, err := searchRank(ev, cfg, logger)
		if err != nil {
			return err
		}
		svdCfg := cfg.Engine.SVD
		svdCfg.Components = best
		newEngine = func() (engine.Engine, error) { return engine.NewSVDEngine(svdCfg, logger) }
		// The chosen model is retrained on everything before the test partitions.
		train = append(append([]string{}, train...), cfg.Evaluation.ValidPartitions...)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	re, err := newEngine()
	if err != nil {
		return err
	}
	scores, err := ev.EvaluateScoring(re, scorers, train, test)
	if err != nil {
		return err
	}

	re, err = newEngine()
	if err != nil {
		return err
	}
	ranking, err := ev.EvaluateRanking(re, []evaluation.RankingMetric{
		evaluation.HitRate,
		evaluation.NDCG(evaluation.UnseenZero),
	}, train, test)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "algorithm\t%s\n", re.Name())
	fmt.Fprintf(w, "RMSE\t%.4f\n", math.Sqrt(scores[0]))
	for i, name := range scorerNames {
		fmt.Fprintf(w, "%s\t%.4f\n", name, scores[i])
	}
	for i, name := range rankingNames {
		fmt.Fprintf(w, "%s@%d\t%.4f\n", name, cfg.Evaluation.Options.TopN, ranking[i])
	}
	return w.Flush()
}

func searchRank(ev *evaluation.TimeBasedEvaluator, cfg *config.Config, logger *logrus.Logger) (int, error) {
	ranks := cfg.Evaluation.Ranks.Values()
	candidates := make([]evaluation.Candidate, 0, len(ranks))
	for _, k := range ranks {
		svdCfg := cfg.Engine.SVD
		svdCfg.Components = k
		candidates = append(candidates, evaluation.Candidate{
			Name: fmt.Sprintf("svd-%d", k),
			New:  func() (engine.Engine, error) { return engine.NewSVDEngine(svdCfg, logger) },
		})
	}

	results, best, err := ev.RankSearch(candidates, scorers, cfg.Evaluation.TrainPartitions, cfg.Evaluation.ValidPartitions)
	if err != nil {
		return 0, err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "candidate\tMSE\tMAE")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\n", r.Name, r.Scores[0], r.Scores[1])
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}

	logger.WithField("rank", ranks[best]).Info("Best SVD rank selected")
	return ranks[best], nil
}
