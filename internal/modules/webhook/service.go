package webhook

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/connect"
	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// Sink consumes verified, deduplicated events. Sinks must tolerate being
// invoked at-least-once across process restarts; within one store they are
// invoked at most once per event id.
type Sink func(ctx context.Context, businessID string, ev *pos.Event)

// Service authenticates and normalizes inbound vendor deliveries and
// proxies subscription CRUD to the vendor.
type Service interface {
	Ingest(ctx context.Context, businessID string, payload []byte, signature, signedURL string) (*IngestResult, error)
	CreateSubscription(ctx context.Context, businessID string, req CreateSubscriptionRequest) (*pos.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, businessID string) ([]*pos.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, businessID string, sub pos.WebhookSubscription) (*pos.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, businessID, id string) error
	Subscribe(sink Sink)
}

type service struct {
	posService pos.Service
	creds      connect.Repository
	events     EventStore
	sinks      []Sink
}

func NewService(posService pos.Service, creds connect.Repository, events EventStore) Service {
	return &service{posService: posService, creds: creds, events: events}
}

// Subscribe registers a downstream consumer. Not safe to call after the
// server starts serving; wire sinks in main.
func (s *service) Subscribe(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Ingest verifies the signature, dedupes on the vendor event id, and fans
// the event out. Signature failures return a nil result and no error
// detail; the handler answers with a bare 401 and the reject is only
// visible in logs.
func (s *service) Ingest(ctx context.Context, businessID string, payload []byte, signature, signedURL string) (*IngestResult, error) {
	creds, err := s.creds.Get(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	adapter, err := s.posService.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(pos.CapWebhooks) {
		return nil, pos.ErrNotSupported(creds.Provider, "webhooks")
	}

	ev, err := adapter.ValidateWebhook(payload, signature, signedURL, *creds)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"business_id": businessID,
			"provider":    creds.Provider,
		}).Warn("webhook rejected")
		return &IngestResult{}, nil
	}

	first, err := s.events.MarkProcessed(ctx, ev.Provider, ev.ID, businessID)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	if !first {
		// Vendor retry of an event already handled; acknowledge and stop.
		return &IngestResult{Accepted: true, Duplicate: true, Event: ev}, nil
	}

	for _, sink := range s.sinks {
		sink(ctx, businessID, ev)
	}
	logrus.WithFields(logrus.Fields{
		"business_id": businessID,
		"provider":    ev.Provider,
		"event_id":    ev.ID,
		"type":        ev.Type,
	}).Info("webhook event processed")
	return &IngestResult{Accepted: true, Event: ev}, nil
}

func (s *service) CreateSubscription(ctx context.Context, businessID string, req CreateSubscriptionRequest) (*pos.WebhookSubscription, error) {
	adapter, err := s.posService.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(pos.CapWebhooks) {
		return nil, pos.ErrNotSupported(adapter.Provider(), "webhooks")
	}
	sub, err := adapter.CreateWebhook(ctx, pos.WebhookSubscription{
		TargetURL:  req.TargetURL,
		EventTypes: req.EventTypes,
		Active:     true,
	})
	if err != nil {
		return nil, err
	}

	// Square and Zettle hand back a per-subscription signing key; fold it
	// into the stored credentials so Ingest can verify deliveries.
	if key := subscriptionSigningKey(sub); key != "" {
		creds, err := s.creds.Get(ctx, businessID)
		if err == nil && creds.WebhookSecret != key {
			creds.WebhookSecret = key
			if err := s.creds.Save(ctx, businessID, *creds); err != nil {
				return nil, fmt.Errorf("persist webhook secret: %w", err)
			}
		}
	}
	return sub, nil
}

func (s *service) ListSubscriptions(ctx context.Context, businessID string) ([]*pos.WebhookSubscription, error) {
	adapter, err := s.posService.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(pos.CapWebhooks) {
		return nil, pos.ErrNotSupported(adapter.Provider(), "webhooks")
	}
	return adapter.ListWebhooks(ctx)
}

func (s *service) UpdateSubscription(ctx context.Context, businessID string, sub pos.WebhookSubscription) (*pos.WebhookSubscription, error) {
	adapter, err := s.posService.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(pos.CapWebhooks) {
		return nil, pos.ErrNotSupported(adapter.Provider(), "webhooks")
	}
	return adapter.UpdateWebhook(ctx, sub)
}

func (s *service) DeleteSubscription(ctx context.Context, businessID, id string) error {
	adapter, err := s.posService.AdapterFor(ctx, businessID)
	if err != nil {
		return err
	}
	if !adapter.Capabilities().Has(pos.CapWebhooks) {
		return pos.ErrNotSupported(adapter.Provider(), "webhooks")
	}
	return adapter.DeleteWebhook(ctx, id)
}

func subscriptionSigningKey(sub *pos.WebhookSubscription) string {
	for _, k := range []string{"signature_key", "signing_key"} {
		if v, ok := sub.Metadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
