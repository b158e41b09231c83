package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/bus"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/native"
	"github.com/tanq16/siphon/internal/probe"
)

var _ native.Backend = (*Orchestrator)(nil)

// Handle applies one inbound intent. Events, including the orchestrator's own, are ignored.
func (o *Orchestrator) Handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeRequest:
		_, err := o.Submit(ctx, Request{ID: msg.ID, Href: msg.Href, Title: msg.Title, EpisodeInfo: msg.EpisodeInfo, URL: msg.URL})
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrInvalidTransition):
			// The id already reached its terminal event; restate the list instead.
			log.Warn().Str("op", "orchestrator/handle").Str("id", msg.ID).Msgf("Request rejected: %v", err)
			o.publishList(ctx)
		default:
			log.Warn().Str("op", "orchestrator/handle").Str("id", msg.ID).Msgf("Request rejected: %v", err)
			o.publish(ctx, bus.Message{Type: bus.TypeFailed, ID: msg.ID, Error: err.Error()})
		}
	case bus.TypeCancel:
		if err := o.Cancel(ctx, msg.ID); err != nil {
			log.Debug().Str("op", "orchestrator/handle").Str("id", msg.ID).Msgf("Cancel ignored: %v", err)
		}
	case bus.TypeRetry:
		if _, err := o.Retry(ctx, msg.ID); err != nil {
			log.Warn().Str("op", "orchestrator/handle").Str("id", msg.ID).Msgf("Retry rejected: %v", err)
		}
	case bus.TypeDelete:
		if err := o.Delete(ctx, msg.ID); err != nil {
			log.Warn().Str("op", "orchestrator/handle").Str("id", msg.ID).Msgf("Delete failed: %v", err)
			return
		}
		o.publishList(ctx)
	case bus.TypeListRequest:
		o.publishList(ctx)
	case bus.TypeRootSet:
		if msg.Handle == nil || o.roots == nil {
			log.Warn().Str("op", "orchestrator/handle").Msg("Root set without a handle")
			return
		}
		root, err := o.roots.Set(ctx, *msg.Handle)
		if err != nil {
			log.Error().Str("op", "orchestrator/handle").Msgf("Error setting root %s: %v", msg.Handle, err)
			return
		}
		h := root.Handle()
		o.publish(ctx, bus.Message{Type: bus.TypeRootHandle, Handle: &h})
	case bus.TypeRootRequest:
		if o.roots == nil {
			return
		}
		root, err := o.roots.Request(ctx)
		if err != nil {
			log.Warn().Str("op", "orchestrator/handle").Msgf("Root request failed: %v", err)
			return
		}
		h := root.Handle()
		o.publish(ctx, bus.Message{Type: bus.TypeRootHandle, Handle: &h})
	case bus.TypeMediaProbe:
		o.Observe(probe.Observation{URL: msg.URL, ContentType: msg.ContentType, Status: msg.Status, Context: msg.Phase})
	}
}

func (o *Orchestrator) publishList(ctx context.Context) {
	items, err := o.List(ctx, "")
	if err != nil {
		log.Error().Str("op", "orchestrator/list").Msgf("Error listing items: %v", err)
		return
	}
	o.publish(ctx, bus.Message{Type: bus.TypeList, Items: items})
}

// Start is the backend form of Submit.
func (o *Orchestrator) Start(ctx context.Context, payload domain.Item) (string, error) {
	item, err := o.Submit(ctx, Request{
		ID:          payload.ID,
		Href:        payload.Anchor,
		Title:       payload.Title,
		EpisodeInfo: payload.EpisodeInfo,
		URL:         payload.RequestURL,
		ParentID:    payload.ParentID,
	})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// Pause is not part of the item state machine.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	return fmt.Errorf("pause %s: %w", id, errors.ErrUnsupported)
}

func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	return fmt.Errorf("resume %s: %w", id, errors.ErrUnsupported)
}

func (o *Orchestrator) StorageStats(ctx context.Context, scope string) (domain.StorageStats, error) {
	return o.store.StorageStats(ctx, scope)
}

func (o *Orchestrator) Quota(ctx context.Context, scope string) (int64, error) {
	return o.store.Quota(ctx, scope)
}

func (o *Orchestrator) SetQuota(ctx context.Context, scope string, quota int64) error {
	return o.store.SetQuota(ctx, scope, quota)
}

func (o *Orchestrator) SmartDefaults(ctx context.Context, scope string) (domain.SmartDefaults, error) {
	return o.store.SmartDefaults(ctx, scope)
}

func (o *Orchestrator) SetSmartDefaults(ctx context.Context, scope string, d domain.SmartDefaults) error {
	return o.store.SetSmartDefaults(ctx, scope, d)
}
