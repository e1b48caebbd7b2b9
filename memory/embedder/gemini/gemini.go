// Package gemini embeds text with the Gemini embedding API.
package gemini

import (
	"context"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/t-bank-sirius/LTM/memory"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "gemini-embedding-001"

// Task types understood by the embedding API.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// Config configures the Gemini embedder. Either APIKey (Gemini API) or
// Project and Location (Vertex AI) must be set.
type Config struct {
	APIKey     string
	Project    string
	Location   string
	Model      string
	Dimensions int
}

// Embedder calls the Gemini embedding endpoint once per text.
type Embedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// New creates a Gemini embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	clientConfig := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		clientConfig.APIKey = cfg.APIKey
		clientConfig.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		if cfg.Location == "" {
			return nil, goerr.New("gemini location is required with a project")
		}
		clientConfig.Project = cfg.Project
		clientConfig.Location = cfg.Location
		clientConfig.Backend = genai.BackendVertexAI
	default:
		return nil, goerr.New("gemini api key or project is required")
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Embedder{
		client:     client,
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text to an embedding, mapping the role to the API task type.
func (e *Embedder) Embed(ctx context.Context, text string, role memory.Role) ([]float32, error) {
	config := &genai.EmbedContentConfig{
		TaskType: taskDocument,
	}
	if role == memory.RoleQuery {
		config.TaskType = taskQuery
	}
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		config.OutputDimensionality = &dims
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", e.model))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("gemini returned no embedding", goerr.V("model", e.model))
	}

	return normalize(resp.Embeddings[0].Values), nil
}

// Dimensions returns the requested output size, or 0 for the model default.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// normalize scales vec to unit length. Truncated Gemini outputs are not normalized by the API.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * norm
	}
	return out
}
