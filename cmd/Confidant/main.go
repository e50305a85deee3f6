package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/Confidant/internal/api"
	"github.com/BTreeMap/Confidant/internal/checkin"
	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/lockfile"
	"github.com/BTreeMap/Confidant/internal/store"
	"github.com/BTreeMap/Confidant/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Confidant state data
	DefaultStateDir = "/var/lib/confidant"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "confidant.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Only one process may own a SQLite state directory.
	if usesLocalDatabase(flags.DBDSN) {
		lock, err := lockfile.AcquireLock(filepath.Dir(flags.DBDSN), flags.APIAddr)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping Confidant with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", flags.StateDir, "dsn_set", flags.DBDSN != "", "api_addr", flags.APIAddr, "provider", flags.Provider)
	if err := api.Run(storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("Confidant failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Confidant exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseDSN   string
	APIAddr       string
	AllowedOrigin string
	Provider      string
	OpenAIKey     string
	OpenAIModel   string
	GeminiKey     string
	GeminiModel   string
	ToneAnalysis  bool
	PacingDelay   time.Duration
}

// Flags holds the effective configuration after command line overrides.
type Flags struct {
	StateDir      string
	DBDSN         string
	APIAddr       string
	AllowedOrigin string
	Provider      string
	OpenAIKey     string
	OpenAIModel   string
	GeminiKey     string
	GeminiModel   string
	ToneAnalysis  bool
	PacingDelay   time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("CONFIDANT_STATE_DIR"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		APIAddr:       os.Getenv("API_ADDR"),
		AllowedOrigin: os.Getenv("ALLOWED_ORIGIN"),
		Provider:      os.Getenv("GENAI_PROVIDER"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		GeminiKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   os.Getenv("GEMINI_MODEL"),
		ToneAnalysis:  util.ParseBoolEnv("TONE_ANALYSIS_ENABLED", false),
		PacingDelay:   util.ParseDurationEnv("CHECKIN_PACING_DELAY", checkin.DefaultPacingDelay),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONFIDANT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_URL is accepted for platforms that inject it.
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	if config.Provider == "" {
		config.Provider = string(genai.ProviderOpenAI)
	}

	slog.Debug("environment variables loaded",
		"CONFIDANT_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"API_ADDR", config.APIAddr,
		"ALLOWED_ORIGIN", config.AllowedOrigin,
		"GENAI_PROVIDER", config.Provider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"TONE_ANALYSIS_ENABLED", config.ToneAnalysis,
		"CHECKIN_PACING_DELAY", config.PacingDelay)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	fs := flag.NewFlagSet("confidant", flag.ContinueOnError)
	stateDir := fs.String("state-dir", config.StateDir, "state directory for Confidant data (overrides $CONFIDANT_STATE_DIR)")
	dbDSN := fs.String("db-dsn", config.DatabaseDSN, "database DSN, a SQLite path or PostgreSQL URL (overrides $DATABASE_DSN or $DATABASE_URL)")
	apiAddr := fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	origin := fs.String("allowed-origin", config.AllowedOrigin, "CORS origin allowed to call the API (overrides $ALLOWED_ORIGIN)")
	provider := fs.String("provider", config.Provider, "model provider: openai or gemini (overrides $GENAI_PROVIDER)")
	openaiKey := fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	openaiModel := fs.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)")
	geminiKey := fs.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)")
	geminiModel := fs.String("gemini-model", config.GeminiModel, "Gemini model name (overrides $GEMINI_MODEL)")
	tone := fs.Bool("tone-analysis", config.ToneAnalysis, "analyze message tone before replying (overrides $TONE_ANALYSIS_ENABLED)")
	pacing := fs.Duration("checkin-pacing", config.PacingDelay, "delay before each check-in question (overrides $CHECKIN_PACING_DELAY)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	flags := Flags{
		StateDir:      *stateDir,
		DBDSN:         *dbDSN,
		APIAddr:       *apiAddr,
		AllowedOrigin: *origin,
		Provider:      strings.ToLower(strings.TrimSpace(*provider)),
		OpenAIKey:     *openaiKey,
		OpenAIModel:   *openaiModel,
		GeminiKey:     *geminiKey,
		GeminiModel:   *geminiModel,
		ToneAnalysis:  *tone,
		PacingDelay:   *pacing,
	}

	slog.Debug("flags parsed",
		"stateDir", flags.StateDir,
		"dbDSN_set", flags.DBDSN != "",
		"apiAddr", flags.APIAddr,
		"provider", flags.Provider,
		"toneAnalysis", flags.ToneAnalysis,
		"pacingDelay", flags.PacingDelay)

	// Follow a moved state directory when the DSN is still the default path.
	if flags.DBDSN == filepath.Join(config.StateDir, DefaultDBFileName) && flags.StateDir != config.StateDir {
		flags.DBDSN = filepath.Join(flags.StateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.StateDir)
	}
	return flags, nil
}

func usesLocalDatabase(dsn string) bool {
	return dsn != "" && store.DetectDSNType(dsn) != "postgres"
}

// ensureDirectoriesExist creates the directory holding a file-based database
func ensureDirectoriesExist(flags Flags) error {
	if !usesLocalDatabase(flags.DBDSN) {
		return nil
	}
	dir := filepath.Dir(flags.DBDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if flags.DBDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(flags.DBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return []store.Option{store.WithPostgresDSN(flags.DBDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.DBDSN)
	return []store.Option{store.WithSQLiteDSN(flags.DBDSN)}
}

// buildGenAIOptions constructs model client options for the selected provider
func buildGenAIOptions(flags Flags) []genai.Option {
	provider := genai.Provider(flags.Provider)
	opts := []genai.Option{genai.WithProvider(provider)}
	key, model := flags.OpenAIKey, flags.OpenAIModel
	if provider == genai.ProviderGemini {
		key, model = flags.GeminiKey, flags.GeminiModel
	}
	if key != "" {
		opts = append(opts, genai.WithAPIKey(key))
	}
	if model != "" {
		opts = append(opts, genai.WithModel(model))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithToneAnalysis(flags.ToneAnalysis),
		api.WithPacingDelay(flags.PacingDelay),
	}
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	if flags.AllowedOrigin != "" {
		apiOpts = append(apiOpts, api.WithAllowedOrigin(flags.AllowedOrigin))
	}
	return apiOpts
}
