package translator

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/mapping"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/store"
)

// Translator turns the store's latest readings into canonical observations,
// once per poll tick. It only reads: no I/O, no store mutation, so a tick can
// never block or disturb the receiver.
type Translator struct {
	table     *mapping.Table
	store     *store.Store
	staleness time.Duration
	logger    *zap.Logger
}

func New(table *mapping.Table, st *store.Store, staleness time.Duration) *Translator {
	return &Translator{
		table:     table,
		store:     st,
		staleness: staleness,
		logger:    zap.L(),
	}
}

// Translate produces this tick's observations. Devices are skipped, never
// errored, when their reading is stale, their model is unconfigured, or no
// mapped field is present in the payload. Zero observations is a normal
// outcome. Output order is not significant.
func (t *Translator) Translate(now time.Time) []model.CanonicalObservation {
	entries := t.store.Snapshot()
	out := make([]model.CanonicalObservation, 0, len(entries))

	for key, raw := range entries {
		if now.Sub(raw.ReceivedAt) > t.staleness {
			t.logger.Debug("skipping stale device",
				zap.String("device", key.String()),
				zap.Time("last_seen", raw.ReceivedAt))
			continue
		}

		fields := t.table.Resolve(key, raw.Fields)
		if len(fields) == 0 {
			continue
		}

		out = append(out, model.CanonicalObservation{
			Device:     key,
			DeviceSlug: deviceSlug(key),
			Fields:     fields,
			Units:      t.table.Units(),
			// The poll cycle, not the device, defines observation cadence.
			Timestamp: now,
		})
	}
	return out
}

// Staleness reports the configured staleness window.
func (t *Translator) Staleness() time.Duration {
	return t.staleness
}

func deviceSlug(key model.DeviceKey) string {
	return strings.ReplaceAll(slug.Make(key.Model+" "+key.ID), "-", "_")
}
