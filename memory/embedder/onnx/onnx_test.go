//go:build onnx

package onnx_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/t-bank-sirius/LTM/memory/embedder/onnx"
)

const tokenizerJSON = `{
  "model": {
    "type": "WordPiece",
    "vocab": {
      "[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
      "query": 4, "passage": 5, "quick": 6, "##sort": 7, "sort": 8
    }
  }
}`

func writeTokenizer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	gt.NoError(t, os.WriteFile(path, []byte(tokenizerJSON), 0o600))
	return path
}

func TestTokenizerWordPiece(t *testing.T) {
	tok, err := onnx.LoadTokenizer(writeTokenizer(t))
	gt.NoError(t, err)

	gt.Equal(t, tok.Tokenize("Quicksort, sort!"), []int64{6, 7, 8})
	gt.Equal(t, tok.Tokenize("zzz"), []int64{1, 1, 1})
}

func TestTokenizerEncode(t *testing.T) {
	tok, err := onnx.LoadTokenizer(writeTokenizer(t))
	gt.NoError(t, err)

	ids, mask := tok.Encode("query: quicksort", 512)
	gt.Equal(t, ids, []int64{2, 4, 6, 7, 3})
	gt.Equal(t, mask, []int64{1, 1, 1, 1, 1})

	ids, _ = tok.Encode("sort sort sort sort", 4)
	gt.Equal(t, ids, []int64{2, 8, 8, 3})
}

func TestLoadTokenizerRejectsEmptyVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	gt.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{}}}`), 0o600))

	_, err := onnx.LoadTokenizer(path)
	gt.Error(t, err)
}
