// Package memory provides per-user long-term semantic memory.
//
// Notes are embedded into vectors and written to a single collection tagged
// by owner. Searches embed the query, restrict the collection to the caller's
// owner id and return the most similar notes above a score floor.
//
// Architecture:
//   - Embedder: text-to-vector backend (hashing, ONNX, Gemini)
//   - Encoder: fixes dimensionality at startup, applies the document/query role, caches vectors
//   - Store: vector storage backend (chromem-go embedded, Qdrant remote)
//   - Manager: validates requests, orchestrates encode and store, shapes results
//
// Lifecycle:
//   - Construct the Store, Embedder, Encoder and Manager once at startup
//   - Call Manager.Initialize before serving; it warms up the model and creates the collection
//   - Share the Manager across handlers; all components are safe for concurrent use
package memory
