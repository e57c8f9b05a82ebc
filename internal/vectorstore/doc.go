// Package vectorstore writes indexable units into a vector index and runs
// similarity queries against it.
//
// Two sinks are provided: ChromemSink (embedded chromem-go, persistent or
// in-memory) and QdrantSink (external Qdrant over gRPC). Both key records by
// the unit id, so resubmitting a unit replaces the stored record instead of
// adding a second one.
//
// # Schema
//
// Every record carries the unit text ("content"), the vector, and the
// metadata fields filename, revision_id, status, additions, deletions,
// timestamp, author and commit_message. ValidateUnit enforces the schema
// before any write; violations are *SchemaError. Failures of the backing
// store are *SinkError.
//
// Provider selection via config:
//
//	vectorstore:
//	  provider: chromem  # "chromem" (default) or "qdrant"
//	  collection: commit_deltas
package vectorstore
