// Package natsclient manages the NATS connection used by the twin store, with
// a circuit breaker around connection attempts and helpers for JetStream
// key-value buckets.
//
// # Connection lifecycle
//
// NewClient only records configuration; Connect dials the server and creates
// the JetStream context. Consecutive connection failures open a circuit
// breaker, during which Connect and the bucket helpers fail fast with
// ErrCircuitOpen. The circuit half-opens after a backoff that doubles each
// time it opens, up to WithMaxBackoff.
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithName("twinplatform"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// # Key-value buckets
//
// CreateKeyValueBucket opens or creates a bucket and GetKeyValueBucket only
// opens one. NewKVStore wraps a bucket with per-operation timeouts and
// UpdateWithRetry, a compare-and-set update that retries on revision
// conflicts. The twin store keeps its relationship
// indexes consistent this way.
//
// # Testing
//
// NewTestClient starts a JetStream enabled NATS container through
// testcontainers-go and returns a connected client.
package natsclient
