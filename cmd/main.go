package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"expense-agent/handler"
	"expense-agent/internal/config"
	"expense-agent/internal/integrations/gigachat"
	"expense-agent/internal/integrations/openai"
	"expense-agent/internal/integrations/paramstore"
	"expense-agent/internal/logger"
	"expense-agent/internal/media"
	"expense-agent/internal/memstore"
	"expense-agent/internal/repository"
	"expense-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal("failed to load AWS config", zap.Error(err))
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal("failed to create SSM client", zap.Error(err))
	}

	// ---- State (conversation context + pending receipts) ----
	var (
		contexts usecase.ContextStore
		batches  usecase.BatchStore
	)
	switch cfg.State.Backend {
	case config.StateMemory:
		s := memstore.New(memstore.Options{
			ContextTTL: cfg.State.ContextTTL,
			BatchTTL:   cfg.State.BatchTTL,
			MaxBatches: cfg.State.MaxBatches,
		})
		contexts, batches = s, s
	default:
		s, err := repository.NewStateClient(awsdynamodb.NewFromConfig(awsCfg), cfg.State.Table, cfg.State.ContextTTL, cfg.State.BatchTTL)
		if err != nil {
			log.Fatal("failed to create state client", zap.Error(err))
		}
		contexts, batches = s, s
	}

	// ---- Expenses ----
	pool, err := repository.NewPool(ctx, cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	expenses, err := repository.NewExpenseStore(pool, log)
	if err != nil {
		log.Fatal("failed to create expense store", zap.Error(err))
	}
	if err := expenses.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to prepare database schema", zap.Error(err))
	}

	// ---- Completion + speech ----
	// OpenAI also serves the image intents when GigaChat handles text.
	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithModels(cfg.OpenAI.Model, cfg.OpenAI.VisionModel),
		openai.WithTranscriptionModel(cfg.OpenAI.TranscriptionModel),
		openai.WithRateLimit(cfg.OpenAI.RateLimit, cfg.OpenAI.RateBurst),
		openai.WithMaxRetries(cfg.OpenAI.MaxRetries, 0),
	)
	if err != nil {
		log.Fatal("failed to create OpenAI client", zap.Error(err))
	}

	var completer usecase.Completer = openaiClient
	if cfg.Completion.Provider == config.ProviderGigaChat {
		authKey := cfg.GigaChat.AuthKey
		if authKey == "" {
			if authKey, err = ssmClient.GetToken(ctx, cfg.ParamPrefix+"/gigachat-token"); err != nil {
				log.Fatal("failed to read GigaChat auth key", zap.Error(err))
			}
		}
		completer, err = gigachat.NewClient(ctx, gigachat.Config{
			AuthKey:            authKey,
			Scope:              cfg.GigaChat.Scope,
			Model:              cfg.GigaChat.Model,
			InsecureSkipVerify: cfg.GigaChat.InsecureSkipVerify,
			Vision:             openaiClient,
		})
		if err != nil {
			log.Fatal("failed to create GigaChat client", zap.Error(err))
		}
	}

	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegBin)
	var transcriber media.Transcriber = openaiClient
	if cfg.Transcriber.Provider == config.TranscriberWhisper {
		transcriber = media.NewWhisperCLI(ffmpeg, cfg.Transcriber.WhisperBin, cfg.Transcriber.WhisperModel, cfg.Transcriber.Language)
	}
	normalizer, err := media.NewNormalizer(transcriber, ffmpeg, media.Config{
		Image: media.ImageLimits{
			MaxDimension:  cfg.Media.MaxImageDim,
			MaxBytes:      cfg.Media.MaxImageBytes,
			MaxPixels:     cfg.Media.MaxImagePixels,
			MaxInputBytes: cfg.Media.MaxUploadBytes,
		},
		MaxAudioBytes:        cfg.Media.MaxAudioBytes,
		TranscriptionTimeout: cfg.Transcriber.Timeout,
		FrameOffset:          cfg.Media.FrameOffset,
	})
	if err != nil {
		log.Fatal("failed to create media normalizer", zap.Error(err))
	}

	// ---- Handler ----
	pipeline, err := usecase.NewPipeline(usecase.Dependencies{
		Completer:         completer,
		Expenses:          expenses,
		Contexts:          contexts,
		Batches:           batches,
		Normalizer:        normalizer,
		Logger:            log,
		CompletionTimeout: cfg.Completion.Timeout,
		DefaultCurrency:   cfg.DefaultCurrency,
	})
	if err != nil {
		log.Fatal("failed to create pipeline", zap.Error(err))
	}

	h, err := handler.NewHandler(pipeline, log)
	if err != nil {
		log.Fatal("failed to create handler", zap.Error(err))
	}

	log.Info("expense agent started",
		zap.String("completion_provider", cfg.Completion.Provider),
		zap.String("transcriber", cfg.Transcriber.Provider),
		zap.String("state_backend", cfg.State.Backend),
	)
	lambda.Start(h.Handle)
}
