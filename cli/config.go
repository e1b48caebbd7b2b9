package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/t-bank-sirius/LTM/logging"
	"github.com/t-bank-sirius/LTM/memory"
	"github.com/t-bank-sirius/LTM/memory/embedder/gemini"
	"github.com/t-bank-sirius/LTM/memory/embedder/hashing"
	"github.com/t-bank-sirius/LTM/memory/store/chromem"
	"github.com/t-bank-sirius/LTM/memory/store/qdrant"
)

// Backend names
const (
	storeChromem = "chromem"
	storeQdrant  = "qdrant"

	embedderHashing = "hashing"
	embedderGemini  = "gemini"
	embedderONNX    = "onnx"
)

const defaultEmbeddingModel = "intfloat/multilingual-e5-large"

// config holds configuration values
type config struct {
	configFile string

	// Logging
	logLevel  string
	logFormat string

	// Store
	store            string
	collection       string
	chromemPath      string
	qdrantHost       string
	qdrantPort       int64
	qdrantAPIKey     string
	qdrantTLS        bool
	expectDimensions int64

	// Embedder
	embedder       string
	embeddingModel string
	hashDimensions int64
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	onnxModel      string
	onnxTokenizer  string
	onnxLibrary    string
}

// fileConfig is the layout of the optional YAML configuration file.
type fileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Store struct {
		Backend            string `yaml:"backend"`
		Collection         string `yaml:"collection"`
		ExpectedDimensions int64  `yaml:"expected_dimensions"`
		Chromem            struct {
			Path string `yaml:"path"`
		} `yaml:"chromem"`
		Qdrant struct {
			Host   string `yaml:"host"`
			Port   int64  `yaml:"port"`
			APIKey string `yaml:"api_key"`
			TLS    bool   `yaml:"tls"`
		} `yaml:"qdrant"`
	} `yaml:"store"`
	Embedder struct {
		Backend    string `yaml:"backend"`
		Model      string `yaml:"model"`
		Dimensions int64  `yaml:"dimensions"`
		Gemini     struct {
			APIKey   string `yaml:"api_key"`
			Project  string `yaml:"project"`
			Location string `yaml:"location"`
		} `yaml:"gemini"`
		ONNX struct {
			ModelPath     string `yaml:"model_path"`
			TokenizerPath string `yaml:"tokenizer_path"`
			LibraryPath   string `yaml:"library_path"`
		} `yaml:"onnx"`
	} `yaml:"embedder"`
	Server serverFileConfig `yaml:"server"`
}

type serverFileConfig struct {
	Host      string  `yaml:"host"`
	Port      int64   `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int64   `yaml:"rate_burst"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML configuration file; flags and environment override it",
			Sources:     cli.EnvVars("LTM_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// storeFlags returns flags selecting and configuring the vector store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Vector store backend (chromem, qdrant)",
			Value:       storeChromem,
			Sources:     cli.EnvVars("LTM_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "collection",
			Usage:       "Collection holding every owner's notes",
			Value:       qdrant.DefaultConfig.Collection,
			Sources:     cli.EnvVars("QDRANT_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "chromem-path",
			Usage:       "Directory for chromem persistence; empty keeps notes in memory",
			Sources:     cli.EnvVars("CHROMEM_PATH"),
			Destination: &cfg.chromemPath,
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Usage:       "Qdrant host",
			Value:       qdrant.DefaultConfig.Host,
			Sources:     cli.EnvVars("QDRANT_HOST"),
			Destination: &cfg.qdrantHost,
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Usage:       "Qdrant gRPC port (not the 6333 REST port)",
			Value:       int64(qdrant.DefaultConfig.Port),
			Sources:     cli.EnvVars("QDRANT_GRPC_PORT"),
			Destination: &cfg.qdrantPort,
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Usage:       "Qdrant API key",
			Sources:     cli.EnvVars("QDRANT_API_KEY"),
			Destination: &cfg.qdrantAPIKey,
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Usage:       "Use TLS for the Qdrant connection",
			Sources:     cli.EnvVars("QDRANT_TLS"),
			Destination: &cfg.qdrantTLS,
		},
		&cli.IntFlag{
			Name:        "expected-dimensions",
			Usage:       "Fail startup unless the embedder produces this many dimensions (0 accepts any)",
			Sources:     cli.EnvVars("EMBEDDING_DIMENSIONS"),
			Destination: &cfg.expectDimensions,
		},
	}
}

// embedderFlags returns flags selecting and configuring the embedding backend
func embedderFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding backend (hashing, gemini, onnx)",
			Value:       embedderHashing,
			Sources:     cli.EnvVars("LTM_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       defaultEmbeddingModel,
			Sources:     cli.EnvVars("EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "hash-dimensions",
			Usage:       "Vector size of the hashing embedder",
			Value:       hashing.DefaultDimensions,
			Sources:     cli.EnvVars("HASH_DIMENSIONS"),
			Destination: &cfg.hashDimensions,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Vertex AI embeddings",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Vertex AI embeddings",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "onnx-model",
			Usage:       "Path to the ONNX embedding model",
			Sources:     cli.EnvVars("ONNX_MODEL_PATH"),
			Destination: &cfg.onnxModel,
		},
		&cli.StringFlag{
			Name:        "onnx-tokenizer",
			Usage:       "Path to the model's tokenizer.json",
			Sources:     cli.EnvVars("ONNX_TOKENIZER_PATH"),
			Destination: &cfg.onnxTokenizer,
		},
		&cli.StringFlag{
			Name:        "onnx-library",
			Usage:       "Path to the onnxruntime shared library",
			Sources:     cli.EnvVars("ONNXRUNTIME_LIB_PATH"),
			Destination: &cfg.onnxLibrary,
		},
	}
}

// flagSetter reports whether a flag was given on the command line or environment.
type flagSetter interface {
	IsSet(name string) bool
}

// loadFile reads the YAML file named by --config and fills every value that
// was not set by a flag or environment variable.
func (cfg *config) loadFile(c flagSetter) (*fileConfig, error) {
	if cfg.configFile == "" {
		return &fileConfig{}, nil
	}

	raw, err := os.ReadFile(cfg.configFile)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configFile))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configFile))
	}

	setString := func(flag string, dst *string, v string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setInt := func(flag string, dst *int64, v int64) {
		if v != 0 && !c.IsSet(flag) {
			*dst = v
		}
	}

	setString("log-level", &cfg.logLevel, fc.Log.Level)
	setString("log-format", &cfg.logFormat, fc.Log.Format)

	setString("store", &cfg.store, fc.Store.Backend)
	setString("collection", &cfg.collection, fc.Store.Collection)
	setInt("expected-dimensions", &cfg.expectDimensions, fc.Store.ExpectedDimensions)
	setString("chromem-path", &cfg.chromemPath, fc.Store.Chromem.Path)
	setString("qdrant-host", &cfg.qdrantHost, fc.Store.Qdrant.Host)
	setInt("qdrant-port", &cfg.qdrantPort, fc.Store.Qdrant.Port)
	setString("qdrant-api-key", &cfg.qdrantAPIKey, fc.Store.Qdrant.APIKey)
	if fc.Store.Qdrant.TLS && !c.IsSet("qdrant-tls") {
		cfg.qdrantTLS = true
	}

	setString("embedder", &cfg.embedder, fc.Embedder.Backend)
	setString("embedding-model", &cfg.embeddingModel, fc.Embedder.Model)
	setInt("hash-dimensions", &cfg.hashDimensions, fc.Embedder.Dimensions)
	setString("gemini-api-key", &cfg.geminiAPIKey, fc.Embedder.Gemini.APIKey)
	setString("gemini-project", &cfg.geminiProject, fc.Embedder.Gemini.Project)
	setString("gemini-location", &cfg.geminiLocation, fc.Embedder.Gemini.Location)
	setString("onnx-model", &cfg.onnxModel, fc.Embedder.ONNX.ModelPath)
	setString("onnx-tokenizer", &cfg.onnxTokenizer, fc.Embedder.ONNX.TokenizerPath)
	setString("onnx-library", &cfg.onnxLibrary, fc.Embedder.ONNX.LibraryPath)

	return &fc, nil
}

// Validate checks backend names and ranges before anything is dialed.
func (cfg *config) Validate() error {
	switch cfg.store {
	case storeChromem, storeQdrant:
	default:
		return goerr.New("unknown store backend", goerr.V("store", cfg.store))
	}
	switch cfg.embedder {
	case embedderHashing, embedderGemini, embedderONNX:
	default:
		return goerr.New("unknown embedder backend", goerr.V("embedder", cfg.embedder))
	}

	if strings.TrimSpace(cfg.collection) == "" {
		return goerr.New("collection is required")
	}
	if cfg.store == storeQdrant && (cfg.qdrantPort < 1 || cfg.qdrantPort > 65535) {
		return goerr.New("qdrant port out of range", goerr.V("port", cfg.qdrantPort))
	}
	if cfg.expectDimensions < 0 {
		return goerr.New("expected dimensions must not be negative", goerr.V("dimensions", cfg.expectDimensions))
	}
	if cfg.embedder == embedderHashing && cfg.hashDimensions < 1 {
		return goerr.New("hash dimensions must be positive", goerr.V("dimensions", cfg.hashDimensions))
	}
	if cfg.embedder == embedderGemini && cfg.geminiAPIKey == "" && cfg.geminiProject == "" {
		return goerr.New("gemini-api-key or gemini-project is required")
	}
	if cfg.embedder == embedderONNX && (cfg.onnxModel == "" || cfg.onnxTokenizer == "") {
		return goerr.New("onnx-model and onnx-tokenizer are required")
	}
	return nil
}

// newLogger builds the logger and installs it as the process default.
func (cfg *config) newLogger() *slog.Logger {
	logger := logging.New(cfg.logLevel, cfg.logFormat, os.Stderr)
	logging.SetDefault(logger)
	return logger
}

// newStore creates the configured vector store
func (cfg *config) newStore(logger *slog.Logger) (memory.Store, error) {
	switch cfg.store {
	case storeQdrant:
		store, err := qdrant.New(qdrant.Config{
			Host:       cfg.qdrantHost,
			Port:       int(cfg.qdrantPort),
			Collection: cfg.collection,
			APIKey:     cfg.qdrantAPIKey,
			UseTLS:     cfg.qdrantTLS,
		}, qdrant.WithLogger(logger))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create qdrant store")
		}
		return store, nil

	default:
		opts := []chromem.Option{
			chromem.WithCollection(cfg.collection),
			chromem.WithLogger(logger),
		}
		if cfg.chromemPath != "" {
			opts = append(opts, chromem.WithPersistence(cfg.chromemPath, false))
		}
		store, err := chromem.New(opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create chromem store")
		}
		return store, nil
	}
}

// newEmbedder creates the configured embedding backend. The returned closer
// releases backend resources and is never nil.
func (cfg *config) newEmbedder(ctx context.Context, logger *slog.Logger) (memory.Embedder, func(), error) {
	switch cfg.embedder {
	case embedderGemini:
		model := cfg.embeddingModel
		if model == defaultEmbeddingModel {
			model = gemini.DefaultModel
		}
		emb, err := gemini.New(ctx, gemini.Config{
			APIKey:     cfg.geminiAPIKey,
			Project:    cfg.geminiProject,
			Location:   cfg.geminiLocation,
			Model:      model,
			Dimensions: int(cfg.expectDimensions),
		})
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create gemini embedder")
		}
		return emb, func() {}, nil

	case embedderONNX:
		return newONNXEmbedder(cfg, logger)

	default:
		return hashing.New(int(cfg.hashDimensions)), func() {}, nil
	}
}

// newManager wires store, embedder and encoder into an uninitialized Manager.
// The returned cleanup closes everything it opened.
func (cfg *config) newManager(ctx context.Context, logger *slog.Logger) (*memory.Manager, func(), error) {
	store, err := cfg.newStore(logger)
	if err != nil {
		return nil, nil, err
	}

	emb, closeEmbedder, err := cfg.newEmbedder(ctx, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	encoder, err := memory.NewEncoder(emb, memory.WithEncoderLogger(logger))
	if err != nil {
		closeEmbedder()
		_ = store.Close()
		return nil, nil, goerr.Wrap(err, "failed to create encoder")
	}

	managerConfig := *memory.DefaultConfig
	managerConfig.ExpectedDimensions = int(cfg.expectDimensions)

	manager := memory.NewManager(store, encoder, &managerConfig, memory.WithLogger(logger))

	cleanup := func() {
		encoder.Close()
		closeEmbedder()
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}

	logger.Info("memory configured",
		"store", cfg.store,
		"collection", cfg.collection,
		"embedder", cfg.embedder,
		"model", cfg.embeddingModel,
	)
	return manager, cleanup, nil
}
