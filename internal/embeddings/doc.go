// Package embeddings maps rendered change text to fixed-dimension vectors.
//
// Providers: TEI (text-embeddings-inference over HTTP), OpenAI and Azure
// OpenAI (go-openai), and FastEmbed (local ONNX, cgo builds only). NewProvider
// wraps the selected backend in Limited, which adds rate limiting, per-call
// timeouts, bounded retries and a dimension check. Every failure reaches the
// caller as an *EmbeddingError.
package embeddings
