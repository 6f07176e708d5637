package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knoguchi/rerankeval/internal/caption"
	"github.com/knoguchi/rerankeval/internal/config"
	"github.com/knoguchi/rerankeval/internal/crossencoder"
	"github.com/knoguchi/rerankeval/internal/dataset"
	"github.com/knoguchi/rerankeval/internal/embedder"
	"github.com/knoguchi/rerankeval/internal/evaluation"
	"github.com/knoguchi/rerankeval/internal/llm"
	"github.com/knoguchi/rerankeval/internal/pipeline"
	"github.com/knoguchi/rerankeval/internal/profile"
	"github.com/knoguchi/rerankeval/internal/rankparse"
	"github.com/knoguchi/rerankeval/internal/repository"
	"github.com/knoguchi/rerankeval/internal/repository/postgres"
	"github.com/knoguchi/rerankeval/internal/reranker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ParseFlags(flag.CommandLine, os.Args[1:]); err != nil {
		os.Exit(2)
	}

	// Set up structured logging
	logLevel, err := cfg.SlogLevel()
	if err != nil {
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	if err := run(cfg); err != nil {
		slog.Error("rerank run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	kind, err := reranker.KindFor(cfg.ModelType, cfg.ModelSource)
	if err != nil {
		return err
	}

	slog.Info("starting rerank evaluation",
		"model_type", cfg.ModelType,
		"model_source", cfg.ModelSource,
		"model_name", cfg.ModelName,
		"reranker", string(kind),
	)

	baseline, err := evaluation.ParseDumpFile(cfg.InferencePath)
	if err != nil {
		return fmt.Errorf("failed to read baseline recommendations: %w", err)
	}
	slog.Info("loaded baseline recommendations", "users", len(baseline))

	tables, err := loadTables(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	data := dataset.New(tables)
	slog.Info("loaded dataset",
		"users", len(data.Users()),
		"interactions", len(tables.Interactions),
		"titles", len(tables.Items),
		"comments", data.HasComments(),
	)

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	retry := cfg.RetryPolicy()

	deps := reranker.Deps{Data: data, Logger: slog.Default()}
	maxWords := cfg.ProfileMaxWords
	switch kind {
	case reranker.KindEmbedding:
		deps.Embedder = newEmbedder(cfg, httpClient)
		if maxWords == 0 {
			maxWords = embedder.GetModelConfig(deps.Embedder.ModelName()).MaxInputWords
		}
		slog.Info("initialized embedder", "model", deps.Embedder.ModelName(), "max_words", maxWords)
	case reranker.KindCrossEncoder:
		deps.Scorer, err = crossencoder.NewHuggingFace(crossencoder.Config{
			BaseURL:    cfg.HFInferenceURL,
			Model:      cfg.ModelName,
			APIKey:     cfg.HFAPIKey,
			Retry:      retry,
			HTTPClient: httpClient,
		})
		if err != nil {
			return fmt.Errorf("failed to create cross-encoder: %w", err)
		}
		slog.Info("initialized cross-encoder", "model", cfg.ModelName)
	case reranker.KindGenerative:
		deps.LLM = newLLM(cfg, httpClient)
		slog.Info("initialized LLM", "source", cfg.ModelSource, "model", cfg.ModelName, "stream", cfg.GenerativeStream)
	}

	profileOpts := []profile.Option{
		profile.WithMedia(dataset.Media{CoversDir: cfg.CoversPath, FramesDir: cfg.FramesPath}),
		profile.WithMaxWords(maxWords),
		profile.WithConcurrency(cfg.ProfileConcurrency),
	}
	if cfg.IncludeCover || cfg.IncludeFrames {
		captioner := caption.NewFileCaptioner(caption.NewHuggingFace(caption.HuggingFaceConfig{
			BaseURL:    cfg.HFInferenceURL,
			Model:      cfg.CaptionModel,
			APIKey:     cfg.HFAPIKey,
			Retry:      retry,
			HTTPClient: httpClient,
		}))
		profileOpts = append(profileOpts, profile.WithCaptioner(captioner))
		slog.Info("initialized captioner", "model", cfg.CaptionModel)
	}
	deps.Profiles = profile.NewBuilder(data, profileOpts...)

	// Validate already accepted both values.
	parseMode, _ := rankparse.ParseMode(cfg.GenerativeParseMode)
	policy, _ := pipeline.ParseFailurePolicy(cfg.FailurePolicy)

	rr, err := reranker.New(kind, deps, reranker.Config{
		IncludeTitle:    cfg.IncludeTitle,
		IncludeCover:    cfg.IncludeCover,
		IncludeFrames:   cfg.IncludeFrames,
		IncludeComments: cfg.IncludeComments,
		ModelIdentifier: cfg.ModelName,
		HistoryLength:   cfg.HistoryLength,
		Stream:          cfg.GenerativeStream,
		ParseMode:       parseMode,
		Temperature:     cfg.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to create reranker: %w", err)
	}

	out, err := pipeline.New(rr,
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithFailurePolicy(policy),
	).Run(ctx, baseline)
	if err != nil {
		if pipeline.IsCanceled(err) {
			slog.Info("rerank run interrupted")
		}
		return err
	}

	if cfg.OutputPath != "" {
		if err := evaluation.WriteDumpFile(cfg.OutputPath, out.Reranked); err != nil {
			return err
		}
		slog.Info("wrote reranked recommendations", "path", cfg.OutputPath)
	}

	engine := evaluation.NewEngine(data, slog.Default())
	results, err := engine.Improvement(baseline, out.Reranked, cfg.NList)
	if err != nil {
		return fmt.Errorf("failed to evaluate: %w", err)
	}
	return evaluation.WriteReport(os.Stdout, results)
}

func loadTables(ctx context.Context, cfg *config.Config) (*repository.Tables, error) {
	if cfg.DatabaseURL == "" {
		return dataset.NewFileLoader(dataset.FilePaths{
			PairsPath:    cfg.PairsPath,
			TitlesPath:   cfg.TitlesPath,
			CommentsPath: cfg.CommentsPath,
		}).Load(ctx)
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	tables, err := postgres.NewTableRepo(db).Load(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.IncludeComments && tables.Comments == nil {
		return nil, fmt.Errorf("%w: comments table does not exist", config.ErrMissingResource)
	}
	return tables, nil
}

func newEmbedder(cfg *config.Config, httpClient *http.Client) embedder.Embedder {
	if strings.EqualFold(cfg.ModelSource, "ollama") {
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL:          cfg.OllamaURL,
			Model:            cfg.ModelName,
			BatchConcurrency: cfg.ProfileConcurrency,
			Retry:            cfg.RetryPolicy(),
			HTTPClient:       httpClient,
		})
	}
	return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.ModelName,
		Retry:      cfg.RetryPolicy(),
		HTTPClient: httpClient,
	})
}

func newLLM(cfg *config.Config, httpClient *http.Client) llm.LLM {
	switch strings.ToLower(cfg.ModelSource) {
	case "huggingface":
		return llm.NewHuggingFaceClient(cfg.HFRouterURL, cfg.HFAPIKey, cfg.ModelName, cfg.RetryPolicy(), httpClient, slog.Default())
	case "ollama":
		opts := []llm.OllamaOption{
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithHTTPClient(httpClient),
			llm.WithRetry(cfg.RetryPolicy()),
		}
		if cfg.ModelName != "" {
			opts = append(opts, llm.WithModel(cfg.ModelName))
		}
		return llm.NewOllamaClient(opts...)
	default:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.ModelName,
			Retry:      cfg.RetryPolicy(),
			HTTPClient: httpClient,
		})
	}
}
