// Package config loads configuration from environment variables, .env files,
// and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/knoguchi/rerankeval/internal/backend"
	"github.com/knoguchi/rerankeval/internal/pipeline"
	"github.com/knoguchi/rerankeval/internal/rankparse"
)

var (
	// ErrInvalidConfig marks a malformed or unsupported setting.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingCredential marks a missing API key for a selected backend.
	ErrMissingCredential = errors.New("missing credential")

	// ErrMissingResource marks a missing input file or directory.
	ErrMissingResource = errors.New("missing resource")
)

// Config holds all configuration for a rerank-and-evaluate run
type Config struct {
	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Inputs
	InferencePath string `env:"INFERENCE_PATH"`
	PairsPath     string `env:"PAIRS_PATH"`
	TitlesPath    string `env:"TITLES_PATH"`
	CommentsPath  string `env:"COMMENTS_PATH"`
	CoversPath    string `env:"COVERS_PATH"`
	FramesPath    string `env:"FRAMES_PATH"`
	OutputPath    string `env:"OUTPUT_PATH"`

	// PostgreSQL, used instead of the pairs/titles/comments files when set
	DatabaseURL string `env:"DATABASE_URL"`

	// Model selection
	ModelType   string `env:"MODEL_TYPE" envDefault:"discriminative"`
	ModelSource string `env:"MODEL_SOURCE" envDefault:"openai"`
	ModelName   string `env:"MODEL_NAME"`

	// Credentials
	HFAPIKey     string `env:"HF_API_KEY"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`

	// Endpoints
	HFInferenceURL string `env:"HF_INFERENCE_URL" envDefault:"https://api-inference.huggingface.co"`
	HFRouterURL    string `env:"HF_ROUTER_URL" envDefault:"https://router.huggingface.co"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	OllamaURL      string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	CaptionModel   string `env:"CAPTION_MODEL" envDefault:"Salesforce/blip-image-captioning-large"`

	// Evidence channels
	IncludeTitle    bool `env:"INCLUDE_TITLE" envDefault:"true"`
	IncludeCover    bool `env:"INCLUDE_COVER" envDefault:"false"`
	IncludeFrames   bool `env:"INCLUDE_FRAMES" envDefault:"false"`
	IncludeComments bool `env:"INCLUDE_COMMENTS" envDefault:"false"`

	// Run
	HistoryLength      int           `env:"HISTORY_LENGTH" envDefault:"10"`
	NList              []int         `env:"N_LIST" envDefault:"10,20,50" envSeparator:","`
	Concurrency        int           `env:"CONCURRENCY" envDefault:"1"`
	ProfileConcurrency int           `env:"PROFILE_CONCURRENCY" envDefault:"4"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"2m"`
	ProfileMaxWords    int           `env:"PROFILE_MAX_WORDS" envDefault:"0"`
	FailurePolicy      string        `env:"FAILURE_POLICY" envDefault:"baseline"`

	// Retry
	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"10s"`

	// Generation
	GenerativeStream    bool    `env:"GENERATIVE_STREAM" envDefault:"true"`
	GenerativeParseMode string  `env:"GENERATIVE_PARSE_MODE" envDefault:"strict"`
	Temperature         float32 `env:"TEMPERATURE" envDefault:"0"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// intList is a flag.Value for comma-separated integers.
type intList struct {
	values *[]int
}

func (l intList) String() string {
	if l.values == nil {
		return ""
	}
	parts := make([]string, len(*l.values))
	for i, v := range *l.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l intList) Set(s string) error {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("%q is not an integer", p)
		}
		out = append(out, v)
	}
	*l.values = out
	return nil
}

// ParseFlags overrides the loaded values with command-line flags. Flag
// defaults are the current values, so unset flags keep env values.
func (c *Config) ParseFlags(fs *flag.FlagSet, args []string) error {
	fs.StringVar(&c.InferencePath, "inference_path", c.InferencePath, "baseline recommendation dump")
	fs.StringVar(&c.PairsPath, "pairs_path", c.PairsPath, "user,item,timestamp interaction CSV")
	fs.StringVar(&c.TitlesPath, "titles_path", c.TitlesPath, "headerless item,title CSV")
	fs.StringVar(&c.CommentsPath, "comments_path", c.CommentsPath, "headerless user_id, item_id, comment TSV")
	fs.StringVar(&c.CoversPath, "covers_path", c.CoversPath, "directory of {item}.jpg covers")
	fs.StringVar(&c.FramesPath, "frames_path", c.FramesPath, "directory of {item}-{1..5}.jpg frames")
	fs.StringVar(&c.OutputPath, "output", c.OutputPath, "write the reranked recommendations to this file")
	fs.StringVar(&c.ModelType, "model_type", c.ModelType, "generative or discriminative")
	fs.StringVar(&c.ModelSource, "model_source", c.ModelSource, "huggingface, openai or ollama")
	fs.StringVar(&c.ModelName, "model_name", c.ModelName, "model identifier")
	fs.StringVar(&c.HFAPIKey, "hf_api_key", c.HFAPIKey, "Hugging Face API key")
	fs.StringVar(&c.OpenAIAPIKey, "openai_api_key", c.OpenAIAPIKey, "OpenAI API key")
	fs.BoolVar(&c.IncludeTitle, "include_title", c.IncludeTitle, "include titles in item profiles")
	fs.BoolVar(&c.IncludeCover, "include_cover", c.IncludeCover, "include cover captions in item profiles")
	fs.BoolVar(&c.IncludeFrames, "include_frames", c.IncludeFrames, "include frame captions in item profiles")
	fs.BoolVar(&c.IncludeComments, "include_comments", c.IncludeComments, "include user comments in item profiles")
	fs.Var(intList{values: &c.NList}, "n_list", "comma-separated N values for hit rate")
	return fs.Parse(args)
}

// Validate checks the configuration before any client is built. All problems
// are reported together.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}
	missingCred := func(what string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingCredential, what))
	}
	missing := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingResource, fmt.Sprintf(format, args...)))
	}

	switch strings.ToLower(c.ModelType) {
	case "generative", "discriminative":
	default:
		invalid("model type %q must be generative or discriminative", c.ModelType)
	}

	switch strings.ToLower(c.ModelSource) {
	case "huggingface":
		if c.HFAPIKey == "" {
			missingCred("HF_API_KEY is required for model source huggingface")
		}
		if c.ModelName == "" {
			invalid("a model name is required for model source huggingface")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			missingCred("OPENAI_API_KEY is required for model source openai")
		}
	case "ollama":
	default:
		invalid("model source %q must be huggingface, openai or ollama", c.ModelSource)
	}

	if (c.IncludeCover || c.IncludeFrames) && c.HFAPIKey == "" {
		missingCred("HF_API_KEY is required to caption covers and frames")
	}

	if c.InferencePath == "" {
		missing("inference path is required")
	} else {
		checkFile(c.InferencePath, "inference path", missing)
	}

	if c.DatabaseURL == "" {
		if c.PairsPath == "" || c.TitlesPath == "" {
			missing("pairs and titles paths are required without DATABASE_URL")
		}
		checkFile(c.PairsPath, "pairs path", missing)
		checkFile(c.TitlesPath, "titles path", missing)
		if c.IncludeComments && c.CommentsPath == "" {
			missing("comments path is required when comments are included")
		}
		checkFile(c.CommentsPath, "comments path", missing)
	}

	if c.IncludeCover {
		if c.CoversPath == "" {
			missing("covers path is required when covers are included")
		}
		checkDir(c.CoversPath, "covers path", missing)
	}
	if c.IncludeFrames {
		if c.FramesPath == "" {
			missing("frames path is required when frames are included")
		}
		checkDir(c.FramesPath, "frames path", missing)
	}

	if len(c.NList) == 0 {
		invalid("at least one N value is required")
	}
	for _, n := range c.NList {
		if n <= 0 {
			invalid("N values must be positive, got %d", n)
		}
	}
	if c.HistoryLength <= 0 {
		invalid("history length must be positive, got %d", c.HistoryLength)
	}
	if c.Concurrency <= 0 || c.ProfileConcurrency <= 0 {
		invalid("concurrency values must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		invalid("retry max attempts must be positive, got %d", c.RetryMaxAttempts)
	}
	if c.ProfileMaxWords < 0 {
		invalid("profile max words must not be negative")
	}
	if _, err := pipeline.ParseFailurePolicy(c.FailurePolicy); err != nil {
		invalid("%v", err)
	}
	if _, err := rankparse.ParseMode(c.GenerativeParseMode); err != nil {
		invalid("%v", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		invalid("%v", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		invalid("log format %q must be json or text", c.LogFormat)
	}

	return errors.Join(errs...)
}

func checkFile(path, what string, missing func(string, ...any)) {
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		missing("%s %s: %v", what, path, err)
		return
	}
	if info.IsDir() {
		missing("%s %s is a directory", what, path)
	}
}

func checkDir(path, what string, missing func(string, ...any)) {
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		missing("%s %s: %v", what, path, err)
		return
	}
	if !info.IsDir() {
		missing("%s %s is not a directory", what, path)
	}
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// RetryPolicy returns the backend retry policy.
func (c *Config) RetryPolicy() backend.RetryPolicy {
	return backend.RetryPolicy{
		MaxAttempts:     c.RetryMaxAttempts,
		InitialInterval: c.RetryInitialInterval,
		MaxInterval:     c.RetryMaxInterval,
	}
}
