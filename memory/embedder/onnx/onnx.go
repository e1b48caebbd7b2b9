//go:build onnx

// Package onnx runs a sentence-embedding model locally through ONNX Runtime.
//
// The tokenizer understands WordPiece tokenizer.json files (BERT-family
// models such as intfloat/e5-small-v2). Outputs are mean-pooled over
// attended tokens and L2-normalized.
package onnx

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/t-bank-sirius/LTM/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath is the onnxruntime shared library. Empty uses the system default.
	LibraryPath string

	// Dimensions is the embedding vector size. Zero accepts the model's hidden size.
	Dimensions int

	// MaxLength is the token sequence length (default: 512).
	MaxLength int

	// QueryPrefix and PassagePrefix are prepended per role.
	// Defaults follow the e5 convention: "query: " and "passage: ".
	QueryPrefix   string
	PassagePrefix string
}

// ONNXEmbedder generates embeddings using ONNX Runtime.
type ONNXEmbedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	cfg       Config
	logger    *slog.Logger
	numInputs int

	mu         sync.Mutex
	dimensions int
}

var initOnce sync.Once
var initErr error

func initRuntime(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// New creates a new ONNX embedder.
func New(cfg Config, logger *slog.Logger) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("onnx model path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, goerr.New("onnx tokenizer path is required")
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 512
	}
	if cfg.QueryPrefix == "" {
		cfg.QueryPrefix = "query: "
	}
	if cfg.PassagePrefix == "" {
		cfg.PassagePrefix = "passage: "
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "onnx")

	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize onnx runtime", goerr.V("library", cfg.LibraryPath))
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load tokenizer", goerr.V("path", cfg.TokenizerPath))
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to inspect onnx model", goerr.V("path", cfg.ModelPath))
	}

	if len(inputs) < 2 || len(inputs) > 3 || len(outputs) == 0 {
		return nil, goerr.New("unsupported onnx model signature",
			goerr.V("inputs", len(inputs)), goerr.V("outputs", len(outputs)))
	}

	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		inputNames = append(inputNames, in.Name)
	}
	outputNames := []string{outputs[0].Name}
	logger.Info("onnx model inspected", "inputs", inputNames, "output", outputNames[0])

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create onnx session", goerr.V("path", cfg.ModelPath))
	}

	return &ONNXEmbedder{
		session:    session,
		tokenizer:  tokenizer,
		cfg:        cfg,
		logger:     logger,
		numInputs:  len(inputs),
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to an embedding vector, applying the role prefix.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string, role memory.Role) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := e.cfg.PassagePrefix
	if role == memory.RoleQuery {
		prefix = e.cfg.QueryPrefix
	}

	inputIDs, attentionMask := e.tokenizer.Encode(prefix+text, e.cfg.MaxLength)
	seqLen := int64(len(inputIDs))
	tokenTypeIDs := make([]int64, seqLen)

	shape := ort.NewShape(1, seqLen)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create input_ids tensor")
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create attention_mask tensor")
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create token_type_ids tensor")
	}
	defer typeTensor.Destroy()

	// Some exports drop token_type_ids; inputs follow the model's declared order
	inputTensors := []ort.Value{idsTensor, maskTensor, typeTensor}[:e.numInputs]
	outputTensors := []ort.Value{nil}

	if err := e.session.Run(inputTensors, outputTensors); err != nil {
		return nil, goerr.Wrap(err, "onnx inference failed")
	}
	defer func() {
		for _, output := range outputTensors {
			if output != nil {
				output.Destroy()
			}
		}
	}()

	outputTensor, ok := outputTensors[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("unexpected onnx output tensor type")
	}

	embedding, err := pool(outputTensor.GetData(), outputTensor.GetShape(), attentionMask)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.dimensions == 0 {
		e.dimensions = len(embedding)
	}
	dims := e.dimensions
	e.mu.Unlock()

	if len(embedding) != dims {
		return nil, goerr.New("onnx output width differs from configuration",
			goerr.V("expected", dims), goerr.V("actual", len(embedding)))
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding vector size, or 0 until the first inference
// when the configuration left it unset.
func (e *ONNXEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// Close releases ONNX resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return goerr.Wrap(err, "failed to destroy onnx session")
		}
	}
	return nil
}

// pool extracts a sentence vector from a [1, hidden] or [1, seq, hidden] output.
func pool(data []float32, shape ort.Shape, attentionMask []int64) ([]float32, error) {
	switch len(shape) {
	case 2:
		// Already pooled
		embedding := make([]float32, shape[1])
		copy(embedding, data[:shape[1]])
		return embedding, nil

	case 3:
		if shape[0] != 1 {
			return nil, goerr.New("expected batch size 1", goerr.V("batch", shape[0]))
		}
		seqLen, hidden := int(shape[1]), int(shape[2])

		// Mean pooling over attended tokens
		embedding := make([]float32, hidden)
		var attended float32
		for i := 0; i < seqLen && i < len(attentionMask); i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return embedding, nil
		}
		for j := range embedding {
			embedding[j] /= attended
		}
		return embedding, nil

	default:
		return nil, goerr.New("unexpected onnx output shape", goerr.V("shape", shape))
	}
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Tokenizer handles BERT-style WordPiece tokenization.
type Tokenizer struct {
	vocab    map[string]int
	clsToken int64
	sepToken int64
	unkToken int64
}

// LoadTokenizer reads the vocabulary of a WordPiece tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tokenizer file")
	}

	var tokenizerData struct {
		Model struct {
			Type  string         `json:"type"`
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, goerr.Wrap(err, "failed to parse tokenizer file (only WordPiece vocabularies are supported)")
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer has an empty vocabulary")
	}

	vocab := tokenizerData.Model.Vocab
	special := func(token string, fallback int64) int64 {
		if id, ok := vocab[token]; ok {
			return int64(id)
		}
		return fallback
	}

	return &Tokenizer{
		vocab:    vocab,
		clsToken: special("[CLS]", 101),
		sepToken: special("[SEP]", 102),
		unkToken: special("[UNK]", 100),
	}, nil
}

// Encode returns input ids and the attention mask for text, wrapped in
// [CLS] ... [SEP] and truncated to maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int64, []int64) {
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids := make([]int64, 0, len(tokens)+2)
	ids = append(ids, t.clsToken)
	ids = append(ids, tokens...)
	ids = append(ids, t.sepToken)

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return ids, mask
}

// Tokenize converts text to token IDs using WordPiece.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64

	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if word == "" {
			continue
		}

		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}

		for _, subword := range t.wordPiece(word) {
			if id, ok := t.vocab[subword]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, t.unkToken)
			}
		}
	}

	return tokens
}

// wordPiece splits a word into the longest matching vocabulary pieces.
func (t *Tokenizer) wordPiece(word string) []string {
	runes := []rune(word)
	var subwords []string
	start := 0

	for start < len(runes) {
		end := len(runes)
		found := false

		for end > start {
			substr := string(runes[start:end])
			if start > 0 {
				substr = "##" + substr
			}
			if _, ok := t.vocab[substr]; ok {
				subwords = append(subwords, substr)
				start = end
				found = true
				break
			}
			end--
		}

		if !found {
			subwords = append(subwords, "[UNK]")
			start++
		}
	}

	return subwords
}
