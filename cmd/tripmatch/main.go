package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/swellmates/tripmatch/internal/api"
	"github.com/swellmates/tripmatch/internal/extractor"
	"github.com/swellmates/tripmatch/internal/gate"
	"github.com/swellmates/tripmatch/internal/match"
	"github.com/swellmates/tripmatch/internal/models"
	"github.com/swellmates/tripmatch/internal/session"
	"github.com/swellmates/tripmatch/internal/store"
	"github.com/swellmates/tripmatch/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for tripmatch state data
	DefaultStateDir = "/var/lib/tripmatch"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "tripmatch.db"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Build storage backends
	history, pool, err := buildStores(ctx, flags)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := history.Close(); err != nil {
			slog.Error("Failed to close history store", "error", err)
		}
	}()

	// Build the criteria extractor
	ex, err := extractor.NewExtractor(buildExtractorOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize criteria extractor", "error", err)
		os.Exit(1)
	}

	// Wire the session engine and API server
	engine := session.NewEngine(ex, match.NewMatcher(), gate.NewKeywordGate(), history, pool)
	server := api.NewServer(engine, buildAPIOptions(flags)...)

	slog.Info("Bootstrapping tripmatch with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "backend", *flags.storeBackend, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("tripmatch failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("tripmatch exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	StoreBackend   string
	DatabaseURL    string
	DynamoTable    string
	OpenAIKey      string
	OpenAIModel    string
	APIAddr        string
	CandidatesFile string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	storeBackend   *string
	dbDSN          *string
	dynamoTable    *string
	openaiKey      *string
	openaiModel    *string
	apiAddr        *string
	candidatesFile *string
}

// initializeLogger sets up structured logging. Debug level is opt-in via
// $TRIPMATCH_DEBUG.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("TRIPMATCH_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:       util.GetEnvWithDefault("TRIPMATCH_STATE_DIR", DefaultStateDir),
		StoreBackend:   os.Getenv("STORE_BACKEND"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DynamoTable:    os.Getenv("DYNAMO_TABLE"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		APIAddr:        util.GetEnvWithDefault("API_ADDR", api.DefaultAddr),
		CandidatesFile: os.Getenv("CANDIDATES_FILE"),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TRIPMATCH_STATE_DIR", config.StateDir,
		"STORE_BACKEND", config.StoreBackend,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DYNAMO_TABLE", config.DynamoTable,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"CANDIDATES_FILE", config.CandidatesFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for tripmatch data (overrides $TRIPMATCH_STATE_DIR)"),
		storeBackend:   flag.String("store-backend", config.StoreBackend, "storage backend: memory, sqlite, postgres, or dynamo (overrides $STORE_BACKEND)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for SQLite or Postgres (overrides $DATABASE_URL)"),
		dynamoTable:    flag.String("dynamo-table", config.DynamoTable, "DynamoDB table name for the dynamo backend (overrides $DYNAMO_TABLE)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    flag.String("openai-model", config.OpenAIModel, "OpenAI model for criteria extraction (overrides $OPENAI_MODEL)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		candidatesFile: flag.String("candidates-file", config.CandidatesFile, "JSON file of candidate profiles to seed the pool (overrides $CANDIDATES_FILE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"storeBackend", *flags.storeBackend,
		"dbDSN_set", *flags.dbDSN != "",
		"dynamoTable", *flags.dynamoTable,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"candidatesFile", *flags.candidatesFile)

	// Keep the SQLite default in sync with an overridden state directory.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if resolveBackend(flags) != "sqlite" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, store.DefaultDirPermissions); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// resolveBackend decides the storage backend from the explicit flag, the
// DynamoDB table, or the DSN shape, in that order.
func resolveBackend(flags Flags) string {
	if *flags.storeBackend != "" {
		return *flags.storeBackend
	}
	if *flags.dynamoTable != "" {
		return "dynamo"
	}
	return store.DetectDSNType(*flags.dbDSN)
}

// candidateSaver is satisfied by backends that persist candidate profiles.
type candidateSaver interface {
	SaveCandidate(ctx context.Context, c models.Candidate) error
}

// buildStores constructs the history store and candidate pool for the
// resolved backend, seeding candidates from the configured file.
func buildStores(ctx context.Context, flags Flags) (store.HistoryStore, store.CandidatePool, error) {
	candidates, err := loadCandidates(*flags.candidatesFile)
	if err != nil {
		return nil, nil, err
	}

	backend := resolveBackend(flags)
	slog.Debug("buildStores: resolved storage backend", "backend", backend)

	switch backend {
	case "memory":
		st := store.NewInMemoryStore()
		st.SetCandidates(candidates)
		return st, st, nil

	case "sqlite":
		st, err := store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return nil, nil, err
		}
		if err := seedCandidates(ctx, st, candidates); err != nil {
			return nil, nil, err
		}
		return st, st, nil

	case "postgres":
		st, err := store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return nil, nil, err
		}
		if err := seedCandidates(ctx, st, candidates); err != nil {
			return nil, nil, err
		}
		return st, st, nil

	case "dynamo":
		st, err := store.NewDynamoStore(ctx, *flags.dynamoTable)
		if err != nil {
			return nil, nil, err
		}
		// The dynamo backend only stores history; candidates stay in memory.
		pool := store.NewInMemoryStore()
		pool.SetCandidates(candidates)
		return st, pool, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// seedCandidates writes the seed candidates into a persistent backend.
func seedCandidates(ctx context.Context, saver candidateSaver, candidates []models.Candidate) error {
	for _, c := range candidates {
		if err := saver.SaveCandidate(ctx, c); err != nil {
			return fmt.Errorf("failed to seed candidate %s: %w", c.ID, err)
		}
	}
	if len(candidates) > 0 {
		slog.Info("Seeded candidate pool", "count", len(candidates))
	}
	return nil
}

// loadCandidates reads a JSON array of candidate profiles.
func loadCandidates(path string) ([]models.Candidate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}
	var candidates []models.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("failed to parse candidates file: %w", err)
	}
	slog.Debug("loadCandidates: candidates loaded", "path", path, "count", len(candidates))
	return candidates, nil
}

// buildExtractorOptions constructs extractor configuration options
func buildExtractorOptions(flags Flags) []extractor.Option {
	var opts []extractor.Option
	if *flags.openaiKey != "" {
		opts = append(opts, extractor.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		opts = append(opts, extractor.WithModel(*flags.openaiModel))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}
