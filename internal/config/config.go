package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"expense-agent/internal/domain"
)

const (
	ProviderOpenAI   = "openai"
	ProviderGigaChat = "gigachat"

	TranscriberOpenAI  = "openai"
	TranscriberWhisper = "whisper"

	StateDynamoDB = "dynamodb"
	StateMemory   = "memory"
)

type Config struct {
	LogLevel        string
	DefaultCurrency string
	ParamPrefix     string

	Completion  CompletionConfig
	OpenAI      OpenAIConfig
	GigaChat    GigaChatConfig
	Transcriber TranscriberConfig
	State       StateConfig
	Database    DatabaseConfig
	Media       MediaConfig
}

type CompletionConfig struct {
	Provider string
	Timeout  time.Duration
}

type OpenAIConfig struct {
	BaseURL            string
	Model              string
	VisionModel        string
	TranscriptionModel string
	RateLimit          float64
	RateBurst          int
	MaxRetries         int
}

type GigaChatConfig struct {
	AuthKey            string
	Scope              string
	Model              string
	InsecureSkipVerify bool
}

type TranscriberConfig struct {
	Provider     string
	WhisperBin   string
	WhisperModel string
	Language     string
	Timeout      time.Duration
}

type StateConfig struct {
	Backend    string
	Table      string
	ContextTTL time.Duration
	BatchTTL   time.Duration
	MaxBatches int
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns URL when set, else a key/value connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type MediaConfig struct {
	FFmpegBin      string
	MaxImageDim    int
	MaxImageBytes  int
	MaxImagePixels int
	MaxUploadBytes int
	MaxAudioBytes  int
	FrameOffset    time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	for _, envFile := range []string{".env", "../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	var errs []error
	cfg := &Config{
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
		ParamPrefix:     strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		Completion: CompletionConfig{
			Provider: strings.ToLower(getEnv("COMPLETION_PROVIDER", ProviderOpenAI)),
			Timeout:  getEnvDuration("COMPLETION_TIMEOUT", 30*time.Second, &errs),
		},
		OpenAI: OpenAIConfig{
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			Model:              getEnv("OPENAI_MODEL", ""),
			VisionModel:        getEnv("OPENAI_VISION_MODEL", ""),
			TranscriptionModel: getEnv("OPENAI_TRANSCRIPTION_MODEL", ""),
			RateLimit:          getEnvFloat("OPENAI_RATE_LIMIT", 0, &errs),
			RateBurst:          getEnvInt("OPENAI_RATE_BURST", 1, &errs),
			MaxRetries:         getEnvInt("OPENAI_MAX_RETRIES", 2, &errs),
		},
		GigaChat: GigaChatConfig{
			AuthKey:            getEnv("GIGACHAT_AUTH_KEY", ""),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			Model:              getEnv("GIGACHAT_MODEL", ""),
			InsecureSkipVerify: getEnvBool("GIGACHAT_INSECURE_SKIP_VERIFY", false, &errs),
		},
		Transcriber: TranscriberConfig{
			Provider:     strings.ToLower(getEnv("TRANSCRIBER", TranscriberOpenAI)),
			WhisperBin:   getEnv("WHISPER_BIN", "whisper-cli"),
			WhisperModel: getEnv("WHISPER_MODEL", ""),
			Language:     getEnv("WHISPER_LANGUAGE", "auto"),
			Timeout:      getEnvDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second, &errs),
		},
		State: StateConfig{
			Backend:    strings.ToLower(getEnv("STATE_BACKEND", StateDynamoDB)),
			Table:      getEnv("STATE_TABLE", ""),
			ContextTTL: getEnvDuration("CONTEXT_TTL", 24*time.Hour, &errs),
			BatchTTL:   getEnvDuration("BATCH_TTL", 30*time.Minute, &errs),
			MaxBatches: getEnvInt("MAX_PENDING_BATCHES", 1000, &errs),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "expenses"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Media: MediaConfig{
			FFmpegBin:      getEnv("FFMPEG_BIN", "ffmpeg"),
			MaxImageDim:    getEnvInt("MAX_IMAGE_DIMENSION", 1920, &errs),
			MaxImageBytes:  getEnvInt("MAX_IMAGE_BYTES", 10<<20, &errs),
			MaxImagePixels: getEnvInt("MAX_IMAGE_PIXELS", 40_000_000, &errs),
			MaxUploadBytes: getEnvInt("MAX_UPLOAD_BYTES", 50<<20, &errs),
			MaxAudioBytes:  getEnvInt("MAX_AUDIO_BYTES", 25<<20, &errs),
			FrameOffset:    getEnvDuration("VIDEO_FRAME_OFFSET", time.Second, &errs),
		},
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	switch c.Completion.Provider {
	case ProviderOpenAI:
		if c.ParamPrefix == "" {
			errs = append(errs, errors.New("PARAM_PREFIX is required for the openai provider"))
		}
	case ProviderGigaChat:
		// Image intents go to the OpenAI vision model, whose key is in SSM.
		if c.ParamPrefix == "" {
			errs = append(errs, errors.New("PARAM_PREFIX is required for the gigachat provider to serve image intents"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown COMPLETION_PROVIDER %q", c.Completion.Provider))
	}

	switch c.Transcriber.Provider {
	case TranscriberOpenAI:
		if c.ParamPrefix == "" {
			errs = append(errs, errors.New("PARAM_PREFIX is required for the openai transcriber"))
		}
	case TranscriberWhisper:
		if c.Transcriber.WhisperModel == "" {
			errs = append(errs, errors.New("WHISPER_MODEL is required for the whisper transcriber"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSCRIBER %q", c.Transcriber.Provider))
	}

	switch c.State.Backend {
	case StateDynamoDB:
		if c.State.Table == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb state backend"))
		}
	case StateMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q", c.State.Backend))
	}

	if _, ok := domain.NormalizeCurrency(c.DefaultCurrency); !ok {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY %q is not a 3-letter code", c.DefaultCurrency))
	}
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errs = append(errs, fmt.Errorf("DATABASE_URL: %w", err))
		}
	}
	return errs
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("45s") and bare seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}
