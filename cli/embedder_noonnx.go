//go:build !onnx

package cli

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/t-bank-sirius/LTM/memory"
)

const onnxBuilt = false

func newONNXEmbedder(*config, *slog.Logger) (memory.Embedder, func(), error) {
	return nil, nil, goerr.New("onnx embedder not available: rebuild with -tags onnx")
}
