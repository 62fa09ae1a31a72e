package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all hub metric collectors. When metrics are disabled the *Metrics is nil.
// Components accept the individual interfaces and treat nil as disabled.
type Metrics struct {
	HTTP       HTTPMetrics
	Cache      CacheMetrics
	Enrichment EnrichmentMetrics
	Events     EventMetrics
	Webhooks   WebhookMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	httpMetrics, err := NewHTTPMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	enrichment, err := NewEnrichmentMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("enrichment metrics: %w", err)
	}

	events, err := NewEventMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("event metrics: %w", err)
	}

	webhooks, err := NewWebhookMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("webhook metrics: %w", err)
	}

	return &Metrics{
		HTTP:       httpMetrics,
		Cache:      cache,
		Enrichment: enrichment,
		Events:     events,
		Webhooks:   webhooks,
	}, nil
}

// Accessors below return nil on a nil *Metrics so wiring code never has to branch.

// HTTPOrNil returns m.HTTP or nil.
func (m *Metrics) HTTPOrNil() HTTPMetrics {
	if m == nil {
		return nil
	}

	return m.HTTP
}

// CacheOrNil returns m.Cache or nil.
func (m *Metrics) CacheOrNil() CacheMetrics {
	if m == nil {
		return nil
	}

	return m.Cache
}

// EnrichmentOrNil returns m.Enrichment or nil.
func (m *Metrics) EnrichmentOrNil() EnrichmentMetrics {
	if m == nil {
		return nil
	}

	return m.Enrichment
}

// EventsOrNil returns m.Events or nil.
func (m *Metrics) EventsOrNil() EventMetrics {
	if m == nil {
		return nil
	}

	return m.Events
}

// WebhooksOrNil returns m.Webhooks or nil.
func (m *Metrics) WebhooksOrNil() WebhookMetrics {
	if m == nil {
		return nil
	}

	return m.Webhooks
}
