package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Phantom00716/telegram-personalities-bot/internal/api"
	"github.com/Phantom00716/telegram-personalities-bot/internal/bot"
	"github.com/Phantom00716/telegram-personalities-bot/internal/dispatch"
	"github.com/Phantom00716/telegram-personalities-bot/internal/flow"
	"github.com/Phantom00716/telegram-personalities-bot/internal/genai"
	"github.com/Phantom00716/telegram-personalities-bot/internal/personas"
	"github.com/Phantom00716/telegram-personalities-bot/internal/store"
	"github.com/Phantom00716/telegram-personalities-bot/internal/telegram"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data
	DefaultStateDir = "/var/lib/personabot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "personabot.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping persona bot with configured modules")
	slog.Debug("Final configuration", "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "base_url", *flags.baseURL)
	if err := run(flags); err != nil {
		slog.Error("Persona bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Persona bot exited successfully")
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SeedBuiltinPersonas(personas.Builtins()); err != nil {
		return err
	}

	cache := personas.NewCache(st)
	if err := cache.Reload(); err != nil {
		return err
	}
	slog.Debug("Persona cache primed", "personas", cache.Len())

	tgClient, err := telegram.NewClient(buildTelegramOptions(flags)...)
	if err != nil {
		return err
	}
	defer tgClient.Close()

	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	wizard := flow.NewWizard(st, cache)
	router := bot.NewRouter(st, cache, wizard, tgClient, genaiClient, bot.ParseAdminIDs(*flags.adminIDs))
	dispatcher := dispatch.NewDispatcher(buildDispatchOptions(flags)...)

	server := api.NewServer(st, router, dispatcher, tgClient, buildAPIOptions(flags)...)
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	TelegramToken string
	OpenAIKey     string
	OpenAIModel   string
	DatabaseURL   string
	StateDir      string
	BaseURL       string
	AdminIDs      string
	APIAddr       string
}

// Flags holds command line flag values
type Flags struct {
	telegramToken *string
	openaiKey     *string
	openaiModel   *string
	dbDSN         *string
	baseURL       *string
	adminIDs      *string
	apiAddr       *string
	workers       *int
	queueSize     *int
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
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("PERSONABOT_STATE_DIR"),
		BaseURL:       os.Getenv("BASE_URL"),
		AdminIDs:      os.Getenv("ADMIN_IDS"),
		APIAddr:       os.Getenv("API_ADDR"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PERSONABOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("PERSONABOT_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// DATABASE_PATH is the SQLite-only form; DATABASE_URL takes precedence
	if config.DatabaseURL == "" {
		config.DatabaseURL = os.Getenv("DATABASE_PATH")
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_PATH as database DSN", "sqlite_path", config.DatabaseURL)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TELEGRAM_TOKEN_SET", config.TelegramToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PERSONABOT_STATE_DIR", config.StateDir,
		"BASE_URL", config.BaseURL,
		"ADMIN_IDS_SET", config.AdminIDs != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		telegramToken: flag.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_TOKEN)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		baseURL:       flag.String("base-url", config.BaseURL, "public base URL for webhook registration (overrides $BASE_URL)"),
		adminIDs:      flag.String("admin-ids", config.AdminIDs, "comma-separated admin Telegram user IDs (overrides $ADMIN_IDS)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		workers:       flag.Int("workers", 0, "webhook worker pool size"),
		queueSize:     flag.Int("queue-size", 0, "webhook queue capacity"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"telegramTokenSet", *flags.telegramToken != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"dbDSN_set", *flags.dbDSN != "",
		"baseURL", *flags.baseURL,
		"adminIDs_set", *flags.adminIDs != "",
		"apiAddr", *flags.apiAddr)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// openStore constructs the durable store based on the DSN type
func openStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildTelegramOptions constructs Telegram client configuration options
func buildTelegramOptions(flags Flags) []telegram.Option {
	var tgOpts []telegram.Option
	if *flags.telegramToken != "" {
		tgOpts = append(tgOpts, telegram.WithToken(*flags.telegramToken))
	}
	return tgOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildDispatchOptions constructs dispatcher configuration options
func buildDispatchOptions(flags Flags) []dispatch.Option {
	var dispatchOpts []dispatch.Option
	if *flags.workers > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithWorkers(*flags.workers))
	}
	if *flags.queueSize > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithQueueSize(*flags.queueSize))
	}
	return dispatchOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.baseURL != "" {
		apiOpts = append(apiOpts, api.WithBaseURL(*flags.baseURL))
	}
	return apiOpts
}
