package model

import "fmt"

// UnitSystem labels which unit family the incoming values are already
// expressed in. The engine never converts values, it only tags them.
type UnitSystem string

const (
	UnitsUS       UnitSystem = "us"
	UnitsMetric   UnitSystem = "metric"
	UnitsMetricWX UnitSystem = "metricwx"
)

// Code returns the WeeWX wire code for the unit system.
func (u UnitSystem) Code() int {
	switch u {
	case UnitsUS:
		return 1
	case UnitsMetric:
		return 16
	case UnitsMetricWX:
		return 17
	}
	return 0
}

func ParseUnitSystem(s string) (UnitSystem, error) {
	switch UnitSystem(s) {
	case UnitsUS, UnitsMetric, UnitsMetricWX:
		return UnitSystem(s), nil
	case "":
		return UnitsUS, nil
	}
	return "", fmt.Errorf("unknown unit system %q", s)
}
