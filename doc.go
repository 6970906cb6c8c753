// Package taptilroy is a Singer tap for the Tilroy retail API built around an
// incremental extraction and checkpoint engine.
//
// Each selected stream is fetched page by page. Every page is validated
// against the stream's schema, emitted as RECORD messages, flushed, and only
// then checkpointed: the state document is persisted and the same snapshot is
// announced as a STATE message. A crash at any point therefore replays at
// most the last page and never skips records.
//
// # Architecture
//
// The engine is split into small packages with one concern each:
//
//	pkg/catalog       - Stream descriptors, selection and the Singer catalog
//	pkg/schema        - Declarative schemas and record validation
//	pkg/auth          - Static, OAuth2 and JWT credential providers
//	pkg/fetch         - Retrying HTTP and SQL page executors
//	pkg/paginate      - Offset and cursor paginators, watermark tracking
//	pkg/state         - Bookmarks, the state store and its backends
//	pkg/synchronizer  - The per-stream page cycle
//	pkg/tap           - Concurrent run of every selected stream
//	pkg/tilroy        - Tilroy stream definitions and record transforms
//	pkg/sink          - Stdout, file and Kafka message output
//
// # Quick Start
//
//	tap-tilroy --config config.json --discover > catalog.json
//	tap-tilroy --config config.json --catalog catalog.json --state state.json
//
// A minimal configuration:
//
//	{
//	    "api_url": "https://api.tilroy.com",
//	    "tilroy_api_key": "${TILROY_API_KEY}",
//	    "x_api_key": "${TILROY_X_API_KEY}",
//	    "start_date": "2024-01-01"
//	}
//
// Environment variables are supported with ${VAR_NAME} syntax. Command line
// flags may also be set through TAP_* variables, e.g. TAP_LOG_LEVEL=debug.
//
// # State
//
// State is a versioned document holding, per stream, the committed bookmark,
// a progress marker for an unfinished window and the last status. It can live
// in a local file, SQLite, S3, GCS or MongoDB. Legacy flat bookmark documents
// are read and upgraded on the next write.
//
// # Observability
//
// Logs go to stderr as structured JSON; stdout carries only Singer messages.
// Prometheus metrics are served when metrics_addr is set, and OpenTelemetry
// spans are exported to stderr when tracing is enabled.
package taptilroy
