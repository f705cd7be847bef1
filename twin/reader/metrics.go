package reader

import (
	"context"
	"time"

	"github.com/promotion0824/TwinPlatform-sub045/metric"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

var _ Remote = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	metrics *metric.Metrics
	remote  Remote
}

// NewMetricsRemote returns a Remote that counts calls and observes their
// latency in the registry's core metrics.
func NewMetricsRemote(remote Remote, registry *metric.MetricsRegistry) Remote {
	return &metricsMiddleware{metrics: registry.CoreMetrics(), remote: remote}
}

func (mm *metricsMiddleware) GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error) {
	begin := time.Now()
	t, err := mm.remote.GetDigitalTwin(ctx, id)
	mm.metrics.RecordRemoteCall("GetDigitalTwin", err, time.Since(begin))
	return t, err
}

func (mm *metricsMiddleware) GetRelationship(ctx context.Context, id, otherEndID string) (*twin.Relationship, error) {
	begin := time.Now()
	rel, err := mm.remote.GetRelationship(ctx, id, otherEndID)
	mm.metrics.RecordRemoteCall("GetRelationship", err, time.Since(begin))
	return rel, err
}

func (mm *metricsMiddleware) GetRelationships(ctx context.Context, ids []string) ([]twin.Relationship, error) {
	begin := time.Now()
	rels, err := mm.remote.GetRelationships(ctx, ids)
	mm.metrics.RecordRemoteCall("GetRelationships", err, time.Since(begin))
	return rels, err
}

func (mm *metricsMiddleware) GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error) {
	begin := time.Now()
	rels, err := mm.remote.GetTwinRelationships(ctx, twinID)
	mm.metrics.RecordRemoteCall("GetTwinRelationships", err, time.Since(begin))
	return rels, err
}
