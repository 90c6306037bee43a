package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/config"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/mapping"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/model"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/store"
	"github.com/kroy-the-rabbit/weewx-mqtt/internal/pkg/translator"
)

const tick = 10 * time.Millisecond

func newTestEmitter(t *testing.T, fatal <-chan error) (*Emitter, *store.Store) {
	t.Helper()
	table, err := mapping.New(&config.Mappings{
		Models: map[string]map[string]config.SpecifierList{
			"ESP32s": {"pressure": {"pressure_hPa"}},
		},
	})
	require.NoError(t, err)
	st := store.New()
	tr := translator.New(table, st, time.Hour)
	return New(tr, tick, fatal), st
}

func putReading(st *store.Store, id string, pressure float64) {
	st.Put(model.DeviceKey{Model: "ESP32s", ID: id}, model.RawObservation{
		Fields:     map[string]any{"pressure_hPa": pressure},
		ReceivedAt: time.Now(),
	})
}

func TestPoll_EmptyTickIsNormal(t *testing.T) {
	e, _ := newTestEmitter(t, nil)

	obs, err := e.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestPoll_ReturnsTickObservations(t *testing.T) {
	e, st := newTestEmitter(t, nil)
	putReading(st, "A", 982.12)

	obs, err := e.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 982.12, obs[0].Fields["pressure"])
}

func TestPoll_ContextCancellation(t *testing.T) {
	e, _ := newTestEmitter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoll_FatalTransportErrorSurfaces(t *testing.T) {
	fatal := make(chan error, 1)
	e, _ := newTestEmitter(t, fatal)

	want := errors.New("broker rejected credentials")
	fatal <- want

	_, err := e.Poll(context.Background())
	assert.ErrorIs(t, err, want)
}

func TestNext_YieldsOneRecordAtATime(t *testing.T) {
	e, st := newTestEmitter(t, nil)
	putReading(st, "A", 1)
	putReading(st, "B", 2)

	first, err := e.Next(context.Background())
	require.NoError(t, err)
	second, err := e.Next(context.Background())
	require.NoError(t, err)

	got := map[string]float64{
		first.Device.ID:  first.Fields["pressure"],
		second.Device.ID: second.Fields["pressure"],
	}
	assert.Equal(t, map[string]float64{"A": 1, "B": 2}, got)
}

func TestNext_BlocksAcrossEmptyTicks(t *testing.T) {
	e, st := newTestEmitter(t, nil)

	// Arrives after a few empty ticks have passed.
	go func() {
		time.Sleep(3 * tick)
		putReading(st, "A", 982.12)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	obs, err := e.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", obs.Device.ID)
}

func TestLoop_EndsSilentlyOnCancel(t *testing.T) {
	e, st := newTestEmitter(t, nil)
	putReading(st, "A", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	count := 0
	for obs, err := range e.Loop(ctx) {
		require.NoError(t, err)
		assert.Equal(t, "A", obs.Device.ID)
		count++
		cancel()
	}
	assert.Equal(t, 1, count)
}

func TestLoop_EndsSilentlyOnDeadline(t *testing.T) {
	e, st := newTestEmitter(t, nil)
	putReading(st, "A", 1)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	for _, err := range e.Loop(ctx) {
		t.Fatalf("expected no yields after deadline, got err=%v", err)
	}
}

func TestLoop_YieldsFatalError(t *testing.T) {
	fatal := make(chan error, 1)
	e, _ := newTestEmitter(t, fatal)

	want := errors.New("authentication failed")
	fatal <- want

	var got error
	for _, err := range e.Loop(context.Background()) {
		got = err
		break
	}
	assert.ErrorIs(t, got, want)
}
