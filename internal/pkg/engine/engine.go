package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/emitter"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/mapping"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/receiver"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/store"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/translator"
)

// Engine owns one subscription, one store and one emitter, with an explicit
// start/stop lifecycle. Nothing lives in package state, so independent
// instances (one per station, or several under test) do not interfere.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	table    *mapping.Table
	receiver *receiver.Receiver
	emitter  *emitter.Emitter
	logger   *zap.Logger
}

// Stats aggregates the engine's counters for periodic reporting.
type Stats struct {
	Receiver    receiver.Stats
	Devices     int
	FieldErrors uint64
}

// New wires the engine from validated configuration plus the loaded mapping
// section. All configuration errors surface here, before any connection is
// attempted.
func New(cfg *config.Config, mappings *config.Mappings) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := mapping.New(mappings)
	if err != nil {
		return nil, err
	}

	st := store.New()
	rcv, err := receiver.New(cfg.Broker, st)
	if err != nil {
		return nil, err
	}
	tr := translator.New(table, st, cfg.StalenessWindow())

	return &Engine{
		cfg:      cfg,
		store:    st,
		table:    table,
		receiver: rcv,
		emitter:  emitter.New(tr, cfg.PollInterval, rcv.Fatal()),
		logger:   zap.L(),
	}, nil
}

// Start connects the receiver. Once it returns, messages flow into the store
// and the emitter can be polled.
func (e *Engine) Start(ctx context.Context) error {
	return e.receiver.Connect(ctx)
}

// Stop unsubscribes and releases the broker connection. In-flight
// translations complete against the snapshot they already took.
func (e *Engine) Stop() {
	e.receiver.Disconnect()
}

// Emitter returns the pull boundary the host drives.
func (e *Engine) Emitter() *emitter.Emitter {
	return e.emitter
}

func (e *Engine) Stats() Stats {
	return Stats{
		Receiver:    e.receiver.Stats(),
		Devices:     e.store.Len(),
		FieldErrors: e.table.FieldErrors(),
	}
}

// Housekeep evicts devices silent for longer than the retention window and
// logs the engine counters. Intended to run on a schedule.
func (e *Engine) Housekeep(now time.Time) {
	if removed := e.store.Prune(now.Add(-e.cfg.RetentionWindow)); removed > 0 {
		e.logger.Info("evicted silent devices", zap.Int("count", removed))
	}
	stats := e.Stats()
	e.logger.Info("engine stats",
		zap.Uint64("received", stats.Receiver.Received),
		zap.Uint64("dropped_malformed", stats.Receiver.DroppedMalformed),
		zap.Uint64("dropped_incomplete", stats.Receiver.DroppedIncomplete),
		zap.Uint64("field_errors", stats.FieldErrors),
		zap.Int("devices", stats.Devices))
}
