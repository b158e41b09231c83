package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Bus publishes every message over all of its paths, richest first.
type Bus struct {
	senders []Sender
}

func New(senders ...Sender) *Bus {
	return &Bus{senders: senders}
}

// Publish stamps a nonce shared by all paths and fails only if no path took the message.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if msg.Nonce == "" {
		msg.Nonce = uuid.NewString()
	}
	var errs []error
	delivered := 0
	for _, s := range b.senders {
		if err := s.Send(ctx, msg); err != nil {
			log.Debug().Str("op", "bus/publish").Msgf("Path %s dropped %s: %v", s.Name(), msg.Type, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
