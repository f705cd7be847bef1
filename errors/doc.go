// Package errors provides standardized error handling for the twin platform.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, never retried) and Fatal (unrecoverable). The ingestion retry
// policies and the REST ingestion client rely on this classification to decide
// whether another attempt is worth making.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Client", "IngestFromStorage", "post command")  // retryable
//	errors.WrapInvalid(err, "QueryBuilder", "BuildTwinsQuery", "validate search") // validation
//	errors.WrapFatal(err, "Provider", "GetOrCreateCache", "load models")      // unrecoverable
//
// The generic Wrap() keeps whatever classification the wrapped error already has.
//
// # Permanent Errors
//
// IsPermanent reports Invalid and Fatal errors (and cancellation) as
// permanent. The storage ingestion policy retries only errors for which
// IsPermanent is false.
//
//	if errors.IsPermanent(err) {
//	    return retry.NonRetryable(err)
//	}
package errors
