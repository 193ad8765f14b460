package classifier

import (
	"context"

	"uplink/internal/domain/entity"
	"uplink/internal/observability/metrics"
)

// Noop rates every article neutral. It is used when no classifier is configured.
type Noop struct{}

// NewNoop creates a Noop classifier.
func NewNoop() *Noop { return &Noop{} }

// Name returns the provider label used in metrics.
func (n *Noop) Name() string { return "noop" }

// Classify always returns entity.BiasNeutral.
func (n *Noop) Classify(ctx context.Context, _ string) (entity.Bias, error) {
	metrics.RecordClassification(n.Name(), true)
	return entity.BiasNeutral, nil
}
