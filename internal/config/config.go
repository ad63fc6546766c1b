// Package config merges the CLI flags with environment-provided
// credentials and endpoints.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"personabench/internal/dataset"
	"personabench/internal/mode"
	"personabench/internal/store"
)

type Config struct {
	// Run shape (flags).
	Mode          mode.Mode
	NumIterations int
	Difficulty    dataset.Difficulty
	Resume        bool
	Model         string
	Temperature   float64
	Custom        string
	Dataset       string
	BestOfN       bool
	FreeAnswers   string

	// Engine selection (env).
	Backend        string // openai | gemini | deepseek
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	GeminiAPIKey   string
	DeepSeekAPIKey string
	JudgeBackend   string
	JudgeModel     string
	EnableThinking bool

	// Translation (env; required only for e2l/l2e).
	TranslateURL    string
	TranslateAPIKey string

	// Store (env).
	StoreBackend string // sqlite | postgres
	ResultsDir   string
	PostgresDSN  string

	// Optional Telegram progress (env).
	TelegramToken  string
	TelegramChatID int64

	LogMode string // dev | prod
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) (string, error) {
	v := os.Getenv(k)
	if v == "" {
		return "", fmt.Errorf("config: missing required env %s", k)
	}
	return v, nil
}

// Load parses args (without the program name) and reads the environment.
// Credentials are required only for the selected backends.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("personabench", flag.ContinueOnError)

	var (
		modeStr       = fs.String("mode", "", "evaluation mode: {english|native|e2l|l2e}_{p1|p2} (required)")
		numIterations = fs.Int("num_iterations", 0, "number of refinement iterations, N >= 1 (required)")
		difficulty    = fs.String("difficulty", "", "question difficulty: easy | hard (required)")
		resume        = fs.Bool("resume", false, "continue after the highest committed iteration in the store")
		model         = fs.String("model", getEnv("MODEL", "Qwen/Qwen3-8B"), "model identifier")
		temperature   = fs.Float64("temperature", 0.0, "answer sampling temperature")
		custom        = fs.String("custom", "", "optional suffix for the store file name")
		datasetPath   = fs.String("dataset", "", "path to the benchmark JSON file")
		bestOfN       = fs.Bool("best_of_n", false, "run the trajectory-selection judge after the loop")
		freeAnswers   = fs.String("free_answers", "", "grade a free-answer file instead of the iteration loop")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c := &Config{
		NumIterations: *numIterations,
		Resume:        *resume,
		Model:         *model,
		Temperature:   *temperature,
		Custom:        *custom,
		Dataset:       *datasetPath,
		BestOfN:       *bestOfN,
		FreeAnswers:   *freeAnswers,

		Backend:        getEnv("LLM_BACKEND", "openai"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "http://localhost:8000/v1"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		DeepSeekAPIKey: os.Getenv("DEEPSEEK_API_KEY"),
		EnableThinking: getEnv("ENABLE_THINKING", "") == "1",

		TranslateURL:    os.Getenv("TRANSLATE_URL"),
		TranslateAPIKey: os.Getenv("TRANSLATE_API_KEY"),

		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		ResultsDir:   getEnv("RESULTS_DIR", "results"),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		LogMode: getEnv("LOG_MODE", "prod"),
	}
	c.JudgeBackend = getEnv("JUDGE_BACKEND", c.Backend)
	c.JudgeModel = getEnv("JUDGE_MODEL", c.Model)

	// The free-answers path drives only the judge; the run-shape flags
	// are required for the iteration loop.
	if c.FreeAnswers == "" {
		if *modeStr == "" {
			return nil, fmt.Errorf("config: --mode is required")
		}
		m, err := mode.Parse(*modeStr)
		if err != nil {
			return nil, err
		}
		c.Mode = m

		if *difficulty == "" {
			return nil, fmt.Errorf("config: --difficulty is required")
		}
		d, err := dataset.ParseDifficulty(*difficulty)
		if err != nil {
			return nil, err
		}
		c.Difficulty = d

		if c.NumIterations < 1 {
			return nil, fmt.Errorf("config: --num_iterations is required and must be >= 1, got %d", c.NumIterations)
		}
		if c.Dataset == "" {
			return nil, fmt.Errorf("config: --dataset is required")
		}
	}

	if err := c.checkBackends(); err != nil {
		return nil, err
	}

	if c.TelegramToken != "" {
		id, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TELEGRAM_CHAT_ID: %w", err)
		}
		c.TelegramChatID = id
	}
	return c, nil
}

func (c *Config) checkBackends() error {
	needed := map[string]bool{c.Backend: true}
	if c.BestOfN || c.FreeAnswers != "" {
		needed[c.JudgeBackend] = true
	}
	for b := range needed {
		switch b {
		case "openai":
			// Local servers accept any key; nothing required.
		case "gemini":
			v, err := mustEnv("GEMINI_API_KEY")
			if err != nil {
				return err
			}
			c.GeminiAPIKey = v
		case "deepseek":
			v, err := mustEnv("DEEPSEEK_API_KEY")
			if err != nil {
				return err
			}
			c.DeepSeekAPIKey = v
		default:
			return fmt.Errorf("config: unknown backend %q", b)
		}
	}
	if c.Mode.Translates() && c.TranslateURL == "" {
		return fmt.Errorf("config: TRANSLATE_URL is required for mode %s", c.Mode)
	}
	switch c.StoreBackend {
	case "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	return nil
}

// StorePath resolves the SQLite file location for this run.
func (c *Config) StorePath() string {
	return store.Path(c.ResultsDir, string(c.Mode.Variant), string(c.Mode.Policy),
		string(c.Difficulty), c.Temperature, c.Model, c.Custom)
}
