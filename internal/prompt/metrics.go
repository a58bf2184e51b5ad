package prompt

import (
	"context"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

// Metric field names under prompt:<version>:metrics.
const (
	MetricUses          = "uses"
	MetricCorrect       = "correct"
	MetricFalsePositive = "false_positive"
	MetricFalseNegative = "false_negative"
)

// Metrics tracks per-prompt-version quality counters so layout changes can
// be compared. Counters are atomic increments; failures are logged and
// swallowed because metrics must never block moderation.
type Metrics struct {
	store kvstore.Store
	keys  kvstore.Keyspace
	log   *zap.Logger
}

// NewMetrics wires the prompt quality counters.
func NewMetrics(store kvstore.Store, keys kvstore.Keyspace) *Metrics {
	return &Metrics{
		store: store,
		keys:  keys,
		log:   logging.Get(logging.CategoryAnalyzer),
	}
}

func (m *Metrics) field(version, field string) string {
	return m.keys.PromptMetrics(version) + ":" + field
}

// RecordUse counts one prompt dispatch.
func (m *Metrics) RecordUse(ctx context.Context, version string) {
	m.incr(ctx, version, MetricUses)
}

// RecordOutcome books a moderator verdict against a prompt version. field is
// one of MetricCorrect, MetricFalsePositive, MetricFalseNegative.
func (m *Metrics) RecordOutcome(ctx context.Context, version, field string) {
	switch field {
	case MetricCorrect, MetricFalsePositive, MetricFalseNegative:
		m.incr(ctx, version, field)
	default:
		m.log.Warn("unknown prompt metric field", zap.String("field", field))
	}
}

// Snapshot reads all counters for a version. Missing counters read as zero.
func (m *Metrics) Snapshot(ctx context.Context, version string) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, f := range []string{MetricUses, MetricCorrect, MetricFalsePositive, MetricFalseNegative} {
		n, err := kvstore.GetInt(ctx, m.store, m.field(version, f))
		if err != nil {
			return nil, err
		}
		out[f] = n
	}
	return out, nil
}

func (m *Metrics) incr(ctx context.Context, version, field string) {
	if _, err := m.store.IncrBy(ctx, m.field(version, field), 1); err != nil {
		m.log.Warn("prompt metric increment failed",
			zap.String("version", version), zap.String("field", field), zap.Error(err))
	}
}
