package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"

	"github.com/t-bank-sirius/LTM/core"
	"github.com/t-bank-sirius/LTM/logging"
)

type setFlags map[string]bool

func (s setFlags) IsSet(name string) bool { return s[name] }

func defaultConfig() config {
	return config{
		logLevel:       "info",
		logFormat:      "console",
		store:          storeChromem,
		collection:     "ltm_memories",
		qdrantHost:     "localhost",
		qdrantPort:     6334,
		embedder:       embedderHashing,
		embeddingModel: defaultEmbeddingModel,
		hashDimensions: 384,
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ltm.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileFlagsWin(t *testing.T) {
	cfg := defaultConfig()
	cfg.configFile = writeFile(t, `
log:
  level: debug
store:
  backend: qdrant
  collection: from_file
  qdrant:
    host: qdrant.internal
    port: 6335
embedder:
  backend: hashing
  dimensions: 128
server:
  port: 9000
  rate_limit: 5
`)
	cfg.qdrantHost = "flag-host"

	fc, err := cfg.loadFile(setFlags{"qdrant-host": true})
	gt.NoError(t, err)

	gt.Equal(t, cfg.logLevel, "debug")
	gt.Equal(t, cfg.store, storeQdrant)
	gt.Equal(t, cfg.collection, "from_file")
	gt.Equal(t, cfg.qdrantHost, "flag-host")
	gt.Equal(t, cfg.qdrantPort, int64(6335))
	gt.Equal(t, cfg.hashDimensions, int64(128))

	sc := serveConfig{host: "0.0.0.0", port: 8005, rateLimit: 20, rateBurst: 40}
	sc.apply(setFlags{"rate-limit": true}, fc.Server)
	gt.Equal(t, sc.port, int64(9000))
	gt.Equal(t, sc.rateLimit, 20.0)
	gt.Equal(t, sc.addr(), "0.0.0.0:9000")
}

func TestLoadFileMissing(t *testing.T) {
	cfg := defaultConfig()
	cfg.configFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := cfg.loadFile(setFlags{})
	gt.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	cfg := defaultConfig()
	cfg.configFile = writeFile(t, "store: [unterminated")

	_, err := cfg.loadFile(setFlags{})
	gt.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*config)
		wantErr bool
	}{
		{"defaults", func(*config) {}, false},
		{"unknown store", func(c *config) { c.store = "redis" }, true},
		{"unknown embedder", func(c *config) { c.embedder = "word2vec" }, true},
		{"empty collection", func(c *config) { c.collection = " " }, true},
		{"qdrant port out of range", func(c *config) { c.store = storeQdrant; c.qdrantPort = 70000 }, true},
		{"negative expected dimensions", func(c *config) { c.expectDimensions = -1 }, true},
		{"gemini without credentials", func(c *config) { c.embedder = embedderGemini }, true},
		{"gemini with key", func(c *config) { c.embedder = embedderGemini; c.geminiAPIKey = "k" }, false},
		{"onnx without model", func(c *config) { c.embedder = embedderONNX }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				gt.Error(t, err)
			} else {
				gt.NoError(t, err)
			}
		})
	}
}

func TestServeConfigValidate(t *testing.T) {
	gt.NoError(t, (&serveConfig{port: 8005}).validate())
	gt.Error(t, (&serveConfig{port: 0}).validate())
	gt.Error(t, (&serveConfig{port: 8005, rateLimit: -1}).validate())
}

func TestNewManagerPersistsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	logger := logging.New("error", "json", io.Discard)

	cfg := defaultConfig()
	cfg.chromemPath = t.TempDir()

	first, cleanup, err := cfg.newManager(ctx, logger)
	gt.NoError(t, err)
	gt.NoError(t, first.Initialize(ctx))

	_, err = first.StoreMemory(ctx, core.StoreRequest{
		BaseInput: core.BaseInput{UserID: "u1"},
		Content:   "Learned quicksort complexity O(n log n)",
		Context:   "programming",
	})
	gt.NoError(t, err)
	cleanup()

	second, cleanup, err := cfg.newManager(ctx, logger)
	gt.NoError(t, err)
	defer cleanup()
	gt.NoError(t, second.Initialize(ctx))

	stats, err := second.Stats(ctx, "u1")
	gt.NoError(t, err)
	gt.Equal(t, stats.TotalMemories, 1)
}

func TestONNXRequiresBuildTag(t *testing.T) {
	if onnxBuilt {
		t.Skip("built with onnx support")
	}

	cfg := defaultConfig()
	cfg.embedder = embedderONNX
	cfg.onnxModel = "model.onnx"
	cfg.onnxTokenizer = "tokenizer.json"

	_, _, err := cfg.newEmbedder(context.Background(), logging.New("error", "json", io.Discard))
	gt.Error(t, err)
}

func TestRunRejectsUnknownBackend(t *testing.T) {
	err := Run(context.Background(), []string{"ltm", "search", "--user", "u1", "--store", "redis", "query"})
	gt.V(t, err).NotNil()
	gt.Equal(t, err.Code, 1)
}

func TestQdrantPortReadsGRPCVariable(t *testing.T) {
	parse := func(t *testing.T) config {
		t.Helper()
		var cfg config
		cmd := &cli.Command{
			Name:   "ltm",
			Flags:  storeFlags(&cfg),
			Action: func(context.Context, *cli.Command) error { return nil },
		}
		gt.NoError(t, cmd.Run(context.Background(), []string{"ltm"}))
		return cfg
	}

	t.Run("REST port variable is ignored", func(t *testing.T) {
		t.Setenv("QDRANT_PORT", "6333")
		gt.Equal(t, parse(t).qdrantPort, int64(6334))
	})

	t.Run("gRPC port variable is used", func(t *testing.T) {
		t.Setenv("QDRANT_GRPC_PORT", "7334")
		gt.Equal(t, parse(t).qdrantPort, int64(7334))
	})
}
