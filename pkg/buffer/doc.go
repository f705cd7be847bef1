// Package buffer documentation.
//
// # Usage
//
//	q, err := buffer.NewQueue[ingest.Row](buffer.WithMetrics[ingest.Row](registry, "ingest_local_store"))
//	if err != nil {
//	    return err
//	}
//	_ = q.Enqueue(row)
//	rows := q.Drain()
//
// Enqueue never blocks and never drops. The ring storage doubles when full and
// is not shrunk again; a Drain resets it to the start.
package buffer
