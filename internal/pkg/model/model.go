package model

import (
	"fmt"
	"time"
)

// DeviceKey identifies one physical device: a model tag shared by a class of
// devices plus the identity of one unit within that model.
type DeviceKey struct {
	Model string
	ID    string
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s/%s", k.Model, k.ID)
}

// RawObservation is the most recent payload received for one device, exactly
// as it arrived. Values are JSON numbers or strings; nothing is converted.
// It is replaced wholesale by the next message for the same DeviceKey.
type RawObservation struct {
	Fields     map[string]any
	ReceivedAt time.Time
}

// CanonicalObservation is one emitted record: canonical field names mapped to
// numeric values, labelled with the configured unit system. Timestamp is the
// poll time, not the device's message time.
type CanonicalObservation struct {
	Device     DeviceKey
	DeviceSlug string
	Fields     map[string]float64
	Units      UnitSystem
	Timestamp  time.Time
}
