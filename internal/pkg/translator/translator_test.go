package translator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/mapping"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/store"
)

const pollInterval = 5 * time.Second

func newTestTranslator(t *testing.T) (*Translator, *store.Store) {
	t.Helper()
	table, err := mapping.New(&config.Mappings{
		Units: "metric",
		Models: map[string]map[string]config.SpecifierList{
			"ESP32s": {
				"pressure": {"pressure_hPa.ESP32s.66838BA28DCC"},
				"altitude": {"altitude_m.ESP32s.66838BA28DCC"},
			},
		},
	})
	require.NoError(t, err)
	st := store.New()
	return New(table, st, 3*pollInterval), st
}

func TestTranslate_EmitsOneRecordPerDevice(t *testing.T) {
	tr, st := newTestTranslator(t)
	now := time.Now()

	st.Put(model.DeviceKey{Model: "ESP32s", ID: "66838BA28DCC"}, model.RawObservation{
		Fields: map[string]any{
			"model":        "ESP32s",
			"id":           "66838BA28DCC",
			"pressure_hPa": 982.12,
			"altitude_m":   262.49,
		},
		ReceivedAt: now.Add(-time.Second),
	})

	out := tr.Translate(now)
	require.Len(t, out, 1)

	obs := out[0]
	assert.Equal(t, map[string]float64{"pressure": 982.12, "altitude": 262.49}, obs.Fields)
	assert.Equal(t, model.UnitsMetric, obs.Units)
	assert.Equal(t, now, obs.Timestamp, "observation carries the poll time, not the message time")
	assert.Equal(t, "esp32s_66838ba28dcc", obs.DeviceSlug)
}

func TestTranslate_EmptyStoreIsNotAnError(t *testing.T) {
	tr, _ := newTestTranslator(t)
	assert.Empty(t, tr.Translate(time.Now()))
}

func TestTranslate_UnconfiguredModelNeverEmitted(t *testing.T) {
	tr, st := newTestTranslator(t)
	now := time.Now()

	st.Put(model.DeviceKey{Model: "XYZ", ID: "1"}, model.RawObservation{
		Fields:     map[string]any{"pressure_hPa": 982.12},
		ReceivedAt: now,
	})

	assert.Empty(t, tr.Translate(now))
	assert.Equal(t, 1, st.Len(), "unmapped devices stay in the store")
}

func TestTranslate_StaleDeviceSkipped(t *testing.T) {
	tr, st := newTestTranslator(t)
	now := time.Now()

	st.Put(model.DeviceKey{Model: "ESP32s", ID: "66838BA28DCC"}, model.RawObservation{
		Fields:     map[string]any{"pressure_hPa": 982.12},
		ReceivedAt: now.Add(-3*pollInterval - time.Second),
	})

	assert.Empty(t, tr.Translate(now))

	// A fresh reading brings the device back.
	st.Put(model.DeviceKey{Model: "ESP32s", ID: "66838BA28DCC"}, model.RawObservation{
		Fields:     map[string]any{"pressure_hPa": 982.12},
		ReceivedAt: now,
	})
	assert.Len(t, tr.Translate(now), 1)
}

func TestTranslate_DeviceWithNoResolvableFieldsSkipped(t *testing.T) {
	tr, st := newTestTranslator(t)
	now := time.Now()

	st.Put(model.DeviceKey{Model: "ESP32s", ID: "66838BA28DCC"}, model.RawObservation{
		Fields:     map[string]any{"battery_ok": 1.0},
		ReceivedAt: now,
	})

	assert.Empty(t, tr.Translate(now))
}

func TestTranslate_PartialFieldSetStillEmitted(t *testing.T) {
	tr, st := newTestTranslator(t)
	now := time.Now()

	st.Put(model.DeviceKey{Model: "ESP32s", ID: "66838BA28DCC"}, model.RawObservation{
		Fields:     map[string]any{"pressure_hPa": 982.12},
		ReceivedAt: now,
	})

	out := tr.Translate(now)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]float64{"pressure": 982.12}, out[0].Fields)
}
