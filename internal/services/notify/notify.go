// Package notify delivers run reports.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/rs/zerolog"
)

// Notifier sends a report with a subject and a plain-text body.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Multi sends every report to all of its notifiers.
type Multi []Notifier

// Notify delivers to every notifier, even when an earlier one fails.
func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifier for every enabled channel of cfg. It returns nil when
// no channel is enabled.
func FromConfig(logger zerolog.Logger, cfg models.Config) Notifier {
	var out Multi
	if cfg.SMTP != nil && cfg.SMTP.Enabled {
		out = append(out, NewEmail(logger.With().Str("notifier", "email").Logger(), *cfg.SMTP))
	}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		out = append(out, NewTelegram(logger.With().Str("notifier", "telegram").Logger(), *cfg.Telegram))
	}

	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
