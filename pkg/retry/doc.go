// Package retry provides bounded retry with fixed or exponential backoff.
//
// Delays are computed by github.com/cenkalti/backoff/v4. A Config describes
// the attempt budget and the delay curve:
//
//   - Fixed(n, d): n attempts, constant delay d (d = 0 retries immediately)
//   - Exponential(n, initial, max): n attempts, doubling delay with jitter
//
// A Policy names a Config and adds a predicate deciding which errors deserve
// another attempt, plus an optional hook observing each retry:
//
//	storage := retry.Policy{
//	    Name:    "storage",
//	    Config:  retry.Fixed(5, 30*time.Second),
//	    RetryIf: func(err error) bool { return !errors.IsPermanent(err) },
//	}
//	err := storage.WithNotify(logRetry).Do(ctx, func() error {
//	    return client.IngestFromStorage(ctx, db, table, src)
//	})
//
// Errors wrapped with NonRetryable stop the loop regardless of the policy and
// are returned unwrapped of the retry machinery. When every attempt fails the
// result is an *ExhaustedError carrying the attempt count and the last error.
// Retries stop as soon as the context is cancelled.
package retry
