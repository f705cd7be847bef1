// Package twinplatform is the root of the twin platform module.
//
// The module has two halves. The twin half keeps a view of a digital twin
// graph (models, twins and relationships) held in NATS JetStream key-value
// buckets:
//
//   - twin: the domain types and shared helpers
//   - twin/query: builders for graph queries
//   - twin/cache: generation-numbered in-memory snapshots, rebuilt in the
//     background with concurrent requests coalesced
//   - twin/reader: a lazy reader that answers from the snapshot and falls
//     back to the remote store for misses
//   - twin/natsstore: the JetStream-backed store
//
// The ingest half batches telemetry rows and sends them to an analytical
// store:
//
//   - ingest: column types, row rendering and the table ingestor
//   - ingest/localstore: the threshold-triggered local queue
//   - ingest/kusto: the HTTP client for the analytical store
//   - ingest/intake: decoding of rows published on NATS
//
// Shared infrastructure lives in config, errors, health, metric,
// natsclient and pkg/. The cmd/twinplatform binary wires everything
// together.
package twinplatform
