package tools

import (
	"github.com/t-bank-sirius/LTM/core"
)

// Operation names accepted over the websocket transport.
const (
	OpStoreMemory  = "store_memory"
	OpSearchMemory = "search_memory"
	OpMemoryStats  = "memory_stats"
	OpAddFace      = "add_face"
	OpFindFace     = "find_face"
)

// Operation describes one callable operation of the service.
type Operation struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Method      string                 `json:"method"`
	Path        string                 `json:"path"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Operations returns the definitions of every operation the service exposes.
func Operations() []Operation {
	return []Operation{
		{
			Name:        OpStoreMemory,
			Description: "Store a note in the owner's long-term memory. Returns the new memory id.",
			Method:      "POST",
			Path:        "/memory/store",
			InputSchema: BuildOwnedSchema(map[string]interface{}{
				"content": NonEmptyStringProperty("Free-text note to remember"),
				"context": StringProperty("Optional tag embedded together with the note (e.g. 'programming')"),
			}, "content"),
		},
		{
			Name:        OpSearchMemory,
			Description: "Find the owner's notes most similar to a natural-language query, highest score first.",
			Method:      "POST",
			Path:        "/search",
			InputSchema: BuildOwnedSchema(map[string]interface{}{
				"query":     NonEmptyStringProperty("Natural-language query"),
				"limit":     IntegerProperty("Maximum number of results", 1, core.MaxLimit, core.DefaultLimit),
				"min_score": NumberProperty("Minimum cosine similarity", 0, 1, core.DefaultMinScore),
			}, "query"),
		},
		{
			Name:        OpMemoryStats,
			Description: "Count the owner's stored notes and report the collection they live in.",
			Method:      "GET",
			Path:        "/memory/stats/{user_id}",
			InputSchema: BuildOwnedSchema(map[string]interface{}{}),
		},
		{
			Name:        OpAddFace,
			Description: "Register a display image under a name for the owner. Names are kept in memory only.",
			Method:      "POST",
			Path:        "/face/add",
			InputSchema: BuildOwnedSchema(map[string]interface{}{
				"name":  NonEmptyStringProperty("Display name"),
				"image": StringProperty("Opaque image payload such as base64 data or a URL"),
			}, "name"),
		},
		{
			Name:        OpFindFace,
			Description: "Look up the owner's display image whose name best matches the query.",
			Method:      "POST",
			Path:        "/face/find",
			InputSchema: BuildOwnedSchema(map[string]interface{}{
				"query":     NonEmptyStringProperty("Name to look up"),
				"min_score": NumberProperty("Minimum token cosine similarity", 0, 1, core.DefaultFaceMinScore),
			}, "query"),
		},
	}
}

// OperationNames returns the names of all operations in declaration order.
func OperationNames() []string {
	ops := Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return names
}

// EnvelopeSchema describes a websocket request frame.
func EnvelopeSchema() map[string]interface{} {
	return ObjectSchema(map[string]interface{}{
		"id":      StringProperty("Client-chosen correlation id echoed in the response"),
		"op":      StringEnumProperty("Operation to run", OperationNames()...),
		"payload": ObjectSchema(map[string]interface{}{}),
	}, "op", "payload")
}
