//go:build onnx

package cli

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/memory"
	"github.com/t-bank-sirius/LTM/memory/embedder/onnx"
)

const onnxBuilt = true

func newONNXEmbedder(cfg *config, logger *slog.Logger) (memory.Embedder, func(), error) {
	emb, err := onnx.New(onnx.Config{
		ModelPath:     cfg.onnxModel,
		TokenizerPath: cfg.onnxTokenizer,
		LibraryPath:   cfg.onnxLibrary,
		Dimensions:    int(cfg.expectDimensions),
	}, logger)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create onnx embedder", goerr.V("model", cfg.embeddingModel))
	}

	return emb, func() {
		if err := emb.Close(); err != nil {
			logger.Warn("failed to close onnx embedder", "error", err)
		}
	}, nil
}
