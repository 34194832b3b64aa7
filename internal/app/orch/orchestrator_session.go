package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/app"
	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/protocol"
)

// Start probes the source for the session, warms the extractor and
// answers with the metadata. A failed probe leaves the session READY.
func (o *Orchestrator) Start(sess *app.Session, m protocol.Start) error {
	if _, err := o.authorize(sess, m.Identity, m.Credential, domain.ActionStart); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(sess.Context(), o.opts.ProbeTimeout)
	defer cancel()

	meta, err := o.prober.Probe(ctx, o.opts.Source)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProbe, err)
	}
	if meta.Duration <= 0 {
		return fmt.Errorf("%w: source reports no duration", domain.ErrProbe)
	}
	if w, ok := o.extractor.(core.Warmer); ok {
		if err := w.Warm(ctx, o.opts.Source); err != nil {
			return fmt.Errorf("%w: warm up: %v", domain.ErrProbe, err)
		}
	}

	sess.SetMetadata(meta)
	if err := o.registry.Activate(sess.ID); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", string(sess.ID)).Float64("duration", meta.Duration).Str("container", meta.Container).Msg("session active")

	o.Send(sess, protocol.Probe{Metadata: meta})
	return nil
}

// OrphanAge is how old a fragment file must be before the janitor treats
// it as abandoned.
func (o *Orchestrator) OrphanAge() time.Duration {
	return o.opts.ExtractTimeout + o.opts.DeliveryTimeout + o.opts.DisconnectGrace
}

// RunJanitor sweeps abandoned fragment files until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("module", "orch").Dur("interval", interval).Dur("max_age", o.OrphanAge()).Msg("fragment janitor started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.store.Sweep(o.OrphanAge()); err != nil {
				log.Warn().Err(err).Str("module", "orch").Msg("fragment sweep failed")
			}
		}
	}
}
