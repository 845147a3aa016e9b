package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/loqalabs/dyslu/pipeline"

type metrics struct {
	turns         metric.Int64Counter
	stageFailures metric.Int64Counter
	stageDuration metric.Float64Histogram
}

func newMetrics(p *Pipeline) (*metrics, error) {
	meter := otel.Meter(instrumentation)
	turns, err := meter.Int64Counter("dyslu.turns", metric.WithDescription("Turns processed by outcome"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("dyslu.stage.failures", metric.WithDescription("Turn failures by stage"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("dyslu.stage.duration",
		metric.WithDescription("Stage latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64ObservableGauge("dyslu.conversation.records", metric.WithDescription("Records in the conversation log"))
	if err != nil {
		return nil, err
	}
	processing, err := meter.Int64ObservableGauge("dyslu.pipeline.processing", metric.WithDescription("1 while a turn is in flight"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(records, int64(p.deps.Log.Len()))
		var busy int64
		if p.IsProcessing() {
			busy = 1
		}
		obs.ObserveInt64(processing, busy)
		return nil
	}, records, processing)
	if err != nil {
		return nil, err
	}

	return &metrics{turns: turns, stageFailures: failures, stageDuration: duration}, nil
}

func (m *metrics) observeStage(ctx context.Context, stage Stage, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", string(stage)))
	m.stageDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if err != nil {
		m.stageFailures.Add(ctx, 1, attrs)
	}
}

func (m *metrics) observeTurn(ctx context.Context, outcome string) {
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
