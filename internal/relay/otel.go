package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/elsewhere/internal/relay"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	perChannel bool

	delivered metric.Int64Counter
	buffered  metric.Int64Counter
	anomalies metric.Int64Counter

	active  metric.Int64ObservableGauge
	pending metric.Int64ObservableGauge
}

// newInstruments creates the registry instruments on m. observe is polled by
// the gauge callback and returns false when the registry could not be read.
// perChannel tags deliveries and buffered payloads with the channel name.
func newInstruments(m metric.Meter, perChannel bool, observe func() (active, pending int, ok bool)) (*instruments, error) {
	in := &instruments{perChannel: perChannel}

	var err error

	in.delivered, err = m.Int64Counter(
		"relay.deliveries",
		metric.WithDescription("Payloads delivered to an active receiver"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating deliveries counter: %w", err)
	}

	in.buffered, err = m.Int64Counter(
		"relay.buffered",
		metric.WithDescription("Payloads buffered for a channel without receiver"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating buffered counter: %w", err)
	}

	in.anomalies, err = m.Int64Counter(
		"relay.anomalies",
		metric.WithDescription("Reported registry anomalies by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating anomalies counter: %w", err)
	}

	in.active, err = m.Int64ObservableGauge(
		"relay.receivers.active",
		metric.WithDescription("Current number of registered receivers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active receivers gauge: %w", err)
	}

	in.pending, err = m.Int64ObservableGauge(
		"relay.payloads.pending",
		metric.WithDescription("Current number of buffered payloads"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pending payloads gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			active, pending, ok := observe()
			if !ok {
				return nil
			}
			o.ObserveInt64(in.active, int64(active))
			o.ObserveInt64(in.pending, int64(pending))
			return nil
		},
		in.active, in.pending,
	)
	if err != nil {
		return nil, fmt.Errorf("registering gauge callback: %w", err)
	}

	return in, nil
}

func (in *instruments) countDelivered(channel string) {
	in.delivered.Add(context.Background(), 1, in.channelAttrs(channel)...)
}

func (in *instruments) countBuffered(channel string) {
	in.buffered.Add(context.Background(), 1, in.channelAttrs(channel)...)
}

func (in *instruments) channelAttrs(channel string) []metric.AddOption {
	if !in.perChannel {
		return nil
	}
	return []metric.AddOption{metric.WithAttributes(attribute.String("channel", channel))}
}

func (in *instruments) countAnomaly(kind Anomaly) {
	in.anomalies.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", string(kind))))
}
