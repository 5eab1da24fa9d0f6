package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"messaging-platform/internal/session"
)

// Message is the campaign payload: text and/or exactly one media reference
// with an optional caption.
type Message struct {
	Text     string
	MediaRef string
	Caption  string
}

func (m Message) HasMedia() bool { return m.MediaRef != "" }

// Result aggregates per-recipient outcomes of one dispatch call.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Options controls one dispatch call.
type Options struct {
	// FailFast makes any transport-level send failure fatal for the whole
	// call (single-send mode). Without it failures are per-recipient tallies.
	FailFast bool

	// Delay is applied between recipients, never after the last one.
	Delay time.Duration

	// VerifyRegistration checks network registration before sending and
	// tallies unregistered recipients as skipped.
	VerifyRegistration bool
}

// Engine transmits a payload to an ordered recipient list over a connected
// session handle.
//
// Contract:
// - Media is fetched exactly once per call and held only for its duration.
// - Malformed recipients are skipped without a send attempt.
// - In bulk mode a transport failure never aborts the batch.
// - Cancellation is honored between recipients, never mid-send.
type Engine struct {
	norm    NormalizeConfig
	fetcher MediaFetcher
	log     *slog.Logger

	// sleep is injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(norm NormalizeConfig, fetcher MediaFetcher, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		norm:    norm,
		fetcher: fetcher,
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run dispatches msg to recipients in list order and returns the aggregated
// tally. The returned error is non-nil only for fatal conditions: media fetch
// failure, a FailFast transport failure, or cancellation (with the partial
// tally alongside).
func (e *Engine) Run(ctx context.Context, conn session.Conn, msg Message, recipients []string, opts Options) (Result, error) {
	var res Result

	type target struct {
		address string
		valid   bool
	}
	targets := make([]target, 0, len(recipients))
	for _, raw := range recipients {
		addr, err := Normalize(raw, e.norm)
		if err != nil {
			targets = append(targets, target{valid: false})
			continue
		}
		targets = append(targets, target{address: addr, valid: true})
	}

	payload := session.Payload{Text: msg.Text, Caption: msg.Caption}
	if msg.HasMedia() {
		if e.fetcher == nil {
			return res, fmt.Errorf("dispatch: media requested but no fetcher configured")
		}
		data, mime, err := e.fetcher.Fetch(ctx, msg.MediaRef)
		if err != nil {
			return res, err
		}
		payload.Media = data
		payload.MediaMIME = mime
	}

	for i, tgt := range targets {
		if i > 0 && opts.Delay > 0 {
			if err := e.sleep(ctx, opts.Delay); err != nil {
				return res, err
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}

		if !tgt.valid {
			res.Skipped++
			continue
		}

		if opts.VerifyRegistration {
			registered, err := conn.CheckRegistered(ctx, tgt.address)
			if err == nil && !registered {
				res.Skipped++
				continue
			}
			// A failed registration check falls through to the send
			// attempt; the send outcome decides the tally.
		}

		if err := conn.Send(ctx, tgt.address, payload); err != nil {
			if opts.FailFast {
				return res, fmt.Errorf("dispatch: send to %s: %w", tgt.address, err)
			}
			res.Failed++
			e.log.Warn("send failed", "address", tgt.address, "err", err)
			continue
		}
		res.Sent++
	}

	return res, nil
}
