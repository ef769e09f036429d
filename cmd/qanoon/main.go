// Package main provides the qanoon CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"qanoon/internal/answer"
	"qanoon/internal/casestore"
	"qanoon/internal/chunker"
	"qanoon/internal/config"
	"qanoon/internal/embedding"
	"qanoon/internal/exactmatch"
	"qanoon/internal/ingest"
	"qanoon/internal/kbstore"
	"qanoon/internal/logging"
	"qanoon/internal/orchestrator"
	"qanoon/internal/rerank"
	"qanoon/internal/retrieval"
	"qanoon/internal/statute"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "qanoon",
	Short: "qanoon - Pakistani legal information retrieval engine",
	Long: `qanoon answers legal questions over scraped court cases and curated
statute information.

Retrieval is two-stage: dense vector recall over the knowledge base followed
by cross-encoder reranking, with an exact-match short circuit for queries
that name a specific case. Statute-shaped queries are served by a keyword
engine over the curated corpus.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			workspace, _ = os.Getwd()
		}

		var err error
		cfg, err = config.LoadFromWorkspace(workspace)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		debug := cfg.Logging.DebugMode || verbose
		if err := logging.Initialize(workspace, debug, cfg.Logging.Level,
			cfg.Logging.Categories, cfg.Logging.JSONFormat); err != nil {
			return fmt.Errorf("failed to initialize category logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

// ingestCmd builds the knowledge base from the case store
var ingestCmd = &cobra.Command{
	Use:   "ingest [case-id]",
	Short: "Ingest cases from the case store into the knowledge base",
	Long: `Builds the knowledge base: assembles each case's comprehensive text,
chunks and embeds it, and extracts legal-term facets.

Without arguments every case is processed. Cases whose text is unchanged
since their last successful run are skipped unless --force is given.`,
	RunE: runIngest,
}

// askCmd answers a single question
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

// statuteCmd searches the curated statute corpus
var statuteCmd = &cobra.Command{
	Use:   "statute [query]",
	Short: "Search the curated statute corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatute,
}

// statsCmd prints knowledge-base quality metrics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge-base quality metrics",
	RunE:  runStats,
}

// chatCmd starts the interactive interface explicitly
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat interface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

var (
	ingestForce bool
	askTopK     int
	askDomain   string
	askCourt    string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "operation timeout")

	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "reprocess cases even when unchanged")
	askCmd.Flags().IntVar(&askTopK, "top", 10, "number of results to return")
	askCmd.Flags().StringVar(&askDomain, "domain", "", "restrict to a legal domain (criminal, civil, family, ...)")
	askCmd.Flags().StringVar(&askCourt, "court", "", "restrict to a court")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statuteCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// ENGINE ASSEMBLY
// =============================================================================

// engineDeps bundles the process-wide clients; constructed once per command.
type engineDeps struct {
	cases    *casestore.Store
	kb       *kbstore.Store
	engine   embedding.Engine
	statutes *statute.Engine
	orch     *orchestrator.Orchestrator
}

func (d *engineDeps) Close() {
	if d.kb != nil {
		_ = d.kb.Close()
	}
	if d.cases != nil {
		_ = d.cases.Close()
	}
}

func buildEngine() (embedding.Engine, error) {
	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Dimension:      cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.CacheDir == "" {
		return engine, nil
	}
	cached, err := embedding.NewCachedEngine(engine, cfg.Embedding.CacheDir)
	if err != nil {
		logger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		return engine, nil
	}
	return cached, nil
}

func buildDeps() (*engineDeps, error) {
	cases, err := casestore.Open(cfg.Store.CaseDatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open case store: %w", err)
	}
	kb, err := kbstore.Open(cfg.Store.KBDatabasePath, cfg.Embedding.Dimension)
	if err != nil {
		cases.Close()
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	engine, err := buildEngine()
	if err != nil {
		kb.Close()
		cases.Close()
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}

	var statutes *statute.Engine
	if cfg.Statute.CorpusPath != "" {
		statutes, err = statute.New(cfg.Statute.CorpusPath)
		if err != nil {
			logger.Warn("Statute corpus unavailable", zap.Error(err))
			statutes = nil
		}
	}

	retriever := retrieval.New(kb, cases, engine, cfg.Retrieval.InitialK)
	scorer := rerank.NewHTTPScorer(cfg.Rerank.Endpoint, cfg.Rerank.Model)
	reranker := rerank.New(scorer, cfg.Rerank.SemanticWeight, cfg.Retrieval.FinalK, cfg.Rerank.MinRerankK)
	orch := orchestrator.New(exactmatch.New(cases), retriever, reranker, statutes, kb,
		orchestrator.Options{
			DiversityThreshold: cfg.Retrieval.DiversityThreshold,
			WorkerPoolSize:     cfg.Retrieval.WorkerPoolSize,
		})

	return &engineDeps{cases: cases, kb: kb, engine: engine, statutes: statutes, orch: orch}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() { stop(); cancel() }
}

// =============================================================================
// COMMANDS
// =============================================================================

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	deps, err := buildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	ing := ingest.New(deps.cases, deps.kb, deps.engine, chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
		MinChunkSize: cfg.Chunker.MinChunkSize,
		MaxChunkSize: cfg.Chunker.MaxChunkSize,
		TokenRatio:   cfg.Chunker.TokenRatio,
	})

	if len(args) > 0 {
		caseID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid case id %q: %w", args[0], err)
		}
		report, err := ing.ProcessCase(ctx, caseID, ingestForce)
		if err != nil {
			return err
		}
		printReport(*report)
		return nil
	}

	logger.Info("Ingesting all cases", zap.Bool("force", ingestForce))
	reports, err := ing.ProcessAll(ctx, ingestForce)
	if err != nil {
		return err
	}
	processed, skipped, chunks := 0, 0, 0
	for _, r := range reports {
		if r.Skipped {
			skipped++
			continue
		}
		processed++
		chunks += r.Chunks
	}
	fmt.Printf("Ingestion complete: %d processed, %d skipped, %d chunks\n",
		processed, skipped, chunks)
	return nil
}

func printReport(r ingest.Report) {
	if r.Skipped {
		fmt.Printf("Case %d unchanged, skipped\n", r.CaseID)
		return
	}
	fmt.Printf("Case %d: %d chunks, %d terms in %s\n",
		r.CaseID, r.Chunks, r.Terms, r.Elapsed.Round(time.Millisecond))
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	deps, err := buildDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	question := strings.Join(args, " ")
	filters := map[string]interface{}{}
	if askDomain != "" {
		filters["legal_domain"] = askDomain
	}
	if askCourt != "" {
		filters["court"] = askCourt
	}

	results := deps.orch.RetrieveForQA(ctx, question, askTopK, filters)
	text, err := answer.Passthrough{}.Generate(ctx, answer.BuildPrompt(question, results, nil))
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runStatute(cmd *cobra.Command, args []string) error {
	if cfg.Statute.CorpusPath == "" {
		return fmt.Errorf("no statute corpus configured (statute.corpus_path)")
	}
	engine, err := statute.New(cfg.Statute.CorpusPath)
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	results := engine.Search(query, statute.SearchAll)
	if len(results) == 0 {
		fmt.Printf("No statutes matched %q\n", query)
		if suggestions := engine.Suggest(query); len(suggestions) > 0 {
			fmt.Println("Did you mean:")
			for _, s := range suggestions {
				fmt.Printf("  %s\n", s)
			}
		}
		return nil
	}

	for i, r := range results {
		e := r.Entry
		fmt.Printf("%d. %s (relevance %d)\n", i+1, e.Title, r.Relevance)
		if len(e.Sections) > 0 {
			fmt.Printf("   Sections:   %s\n", strings.Join(e.Sections, ", "))
		}
		if e.Punishment != "" {
			fmt.Printf("   Punishment: %s\n", e.Punishment)
		}
		if e.Rights != "" {
			fmt.Printf("   Rights:     %s\n", e.Rights)
		}
		if e.WhatToDo != "" {
			fmt.Printf("   What to do: %s\n", e.WhatToDo)
		}
		fmt.Println()
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	kb, err := kbstore.Open(cfg.Store.KBDatabasePath, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("failed to open knowledge base: %w", err)
	}
	defer kb.Close()

	stats, err := kb.GetStats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Knowledge Base Statistics")
	fmt.Println("=========================")
	fmt.Printf("Chunks:           %d (%d embedded)\n", stats.TotalChunks, stats.EmbeddedChunks)
	fmt.Printf("Distinct cases:   %d\n", stats.DistinctCases)
	fmt.Printf("Avg quality:      %.3f\n", stats.AvgQuality)
	fmt.Printf("Avg relevance:    %.3f\n", stats.AvgRelevance)
	fmt.Printf("Avg completeness: %.3f\n", stats.AvgCompleteness)
	if kb.HasVectorIndex() {
		fmt.Println("Vector index:     sqlite-vec ANN")
	} else {
		fmt.Println("Vector index:     brute-force cosine")
	}
	if len(stats.BySourceType) > 0 {
		fmt.Println("By source type:")
		for st, n := range stats.BySourceType {
			fmt.Printf("  %-16s %d\n", st, n)
		}
	}
	return nil
}
