package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PARAM_PREFIX", "/expense-agent/")
	t.Setenv("STATE_TABLE", "expense-state")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/expense-agent", cfg.ParamPrefix)
	require.Equal(t, "USD", cfg.DefaultCurrency)
	require.Equal(t, ProviderOpenAI, cfg.Completion.Provider)
	require.Equal(t, 30*time.Second, cfg.Completion.Timeout)
	require.Equal(t, StateDynamoDB, cfg.State.Backend)
	require.Equal(t, 24*time.Hour, cfg.State.ContextTTL)
	require.Equal(t, 30*time.Minute, cfg.State.BatchTTL)
	require.Equal(t, 1000, cfg.State.MaxBatches)
	require.Equal(t, 1920, cfg.Media.MaxImageDim)
	require.Equal(t, 10<<20, cfg.Media.MaxImageBytes)
	require.Equal(t, 40_000_000, cfg.Media.MaxImagePixels)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("COMPLETION_TIMEOUT", "45")
	t.Setenv("BATCH_TTL", "10m")
	t.Setenv("OPENAI_RATE_LIMIT", "2.5")
	t.Setenv("STATE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "EUR", cfg.DefaultCurrency)
	require.Equal(t, 45*time.Second, cfg.Completion.Timeout)
	require.Equal(t, 10*time.Minute, cfg.State.BatchTTL)
	require.Equal(t, 2.5, cfg.OpenAI.RateLimit)
	require.Equal(t, StateMemory, cfg.State.Backend)
}

func TestLoad_RequiresParamPrefixForOpenAI(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("STATE_TABLE", "expense-state")

	_, err := Load()
	require.ErrorContains(t, err, "PARAM_PREFIX")
}

func TestLoad_GigaChatNeedsVisionCredentials(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("STATE_BACKEND", "memory")
	t.Setenv("TRANSCRIBER", "whisper")
	t.Setenv("WHISPER_MODEL", "/models/ggml-base.bin")
	t.Setenv("COMPLETION_PROVIDER", "gigachat")
	t.Setenv("GIGACHAT_AUTH_KEY", "key")

	_, err := Load()
	require.ErrorContains(t, err, "image intents")

	t.Setenv("PARAM_PREFIX", "/p")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderGigaChat, cfg.Completion.Provider)
}

func TestLoad_RequiresTableForDynamo(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "/p")
	t.Setenv("STATE_TABLE", "")

	_, err := Load()
	require.ErrorContains(t, err, "STATE_TABLE")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MAX_PENDING_BATCHES", "many")
	t.Setenv("COMPLETION_PROVIDER", "acme")

	_, err := Load()
	require.ErrorContains(t, err, "MAX_PENDING_BATCHES")
	require.ErrorContains(t, err, "acme")
}

func TestLoad_WhisperNeedsModel(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TRANSCRIBER", "whisper")
	t.Setenv("WHISPER_MODEL", "")

	_, err := Load()
	require.ErrorContains(t, err, "WHISPER_MODEL")
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "app", Password: "pw", DBName: "expenses", SSLMode: "disable"}
	require.Equal(t, "host=db port=5432 user=app password=pw dbname=expenses sslmode=disable", d.DSN())

	d.URL = "postgres://app@db/expenses"
	require.Equal(t, "postgres://app@db/expenses", d.DSN())
}
