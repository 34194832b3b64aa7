package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/app"
	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/protocol"
)

const fragmentMIME = "video/mp4"

// Stream validates a fragment request and starts its extraction in the
// background. Overlapping requests are rejected with
// domain.ErrConcurrentRequest.
func (o *Orchestrator) Stream(sess *app.Session, m protocol.Stream) error {
	cred, err := o.authorize(sess, m.Identity, m.Credential, domain.ActionStream)
	if err != nil {
		return err
	}
	meta, ok := sess.Metadata()
	if !ok {
		return fmt.Errorf("%w: stream before probe", domain.ErrProtocol)
	}

	w := m.Window.Window()
	if err := w.Validate(meta.Duration, o.opts.MaxWindow); err != nil {
		return err
	}

	ex, err := sess.Begin(cred, w)
	if err != nil {
		return err
	}
	if !sess.Go(func(ctx context.Context) { o.produce(ctx, sess, ex) }) {
		sess.Finish(ex)
		return domain.ErrSessionClosed
	}
	return nil
}

// produce runs extract -> rotate -> deliver -> delete for one window.
// The fragment file is removed on every path out of this function.
func (o *Orchestrator) produce(ctx context.Context, sess *app.Session, ex *app.Extraction) {
	logger := log.With().
		Str("module", "orch").
		Str("sid", string(sess.ID)).
		Str("window", ex.Window.String()).
		Logger()

	payload, err := o.extract(ctx, ex)
	if err != nil {
		o.discard(ex.Credential)
		sess.Finish(ex)
		if ctx.Err() != nil && sess.Closed() {
			logger.Info().Msg("extraction abandoned by closed session")
			return
		}
		logger.Warn().Err(err).Msg("extraction failed")
		o.Report(sess, err)
		return
	}

	next, err := o.registry.Rotate(sess.ID)
	sess.Finish(ex)
	if err != nil {
		o.discard(ex.Credential)
		logger.Info().Err(err).Msg("session gone before delivery")
		return
	}
	o.deliver(ctx, logger, sess, ex, next, payload)
}

func (o *Orchestrator) extract(ctx context.Context, ex *app.Extraction) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ExtractTimeout)
	defer cancel()

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for extraction slot: %v", domain.ErrExtraction, err)
	}
	defer o.slots.Release(1)

	began := time.Now()
	err := o.extractor.Extract(ctx, o.opts.Source, ex.Window, o.store.Path(ex.Credential))
	elapsed := time.Since(began).Seconds()
	if err != nil {
		result := "error"
		if errors.Is(ctx.Err(), context.Canceled) {
			result = "cancelled"
		}
		o.metrics.ObserveExtraction(result, elapsed)
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}

	payload, err := o.store.Read(ex.Credential)
	if err != nil {
		o.metrics.ObserveExtraction("error", elapsed)
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	if mt := mimetype.Detect(payload); !mt.Is(fragmentMIME) {
		o.metrics.ObserveExtraction("error", elapsed)
		return nil, fmt.Errorf("%w: output is %s, want %s", domain.ErrExtraction, mt.String(), fragmentMIME)
	}
	o.metrics.ObserveExtraction("ok", elapsed)
	return payload, nil
}

// deliver writes the fragment and deletes its file once the write returned.
func (o *Orchestrator) deliver(ctx context.Context, logger zerolog.Logger, sess *app.Session, ex *app.Extraction, next domain.Credential, payload []byte) {
	defer o.discard(ex.Credential)

	frame, err := protocol.Encode(protocol.Fragment{
		Payload:    payload,
		Credential: string(next),
		Window:     protocol.NewWindowMark(ex.Window),
	})
	if err != nil {
		logger.Error().Err(err).Msg("encode fragment")
		sess.Conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.DeliveryTimeout)
	defer cancel()
	if err := sess.Conn.Deliver(ctx, frame); err != nil {
		// The client never learned the rotated credential.
		logger.Warn().Err(err).Msg("fragment delivery failed")
		sess.Conn.Close()
		return
	}
	o.metrics.FragmentDelivered(len(payload))
	logger.Debug().Int("bytes", len(payload)).Dur("took", time.Since(ex.Started)).Msg("fragment delivered")
}
