package config

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Engine parameter keys accepted in defaults and scenario overrides.
const (
	KeyNumOfRobots           = "num_of_robots"
	KeyNumOfPassengers       = "num_of_passengers"
	KeyNumOfStaff            = "num_of_staff"
	KeyFallLength            = "fall_length"
	KeyFallChance            = "fall_chance"
	KeyAllowStaffSupport     = "allow_staff_support"
	KeyAllowPassengerSupport = "allow_passenger_support"
	KeyMaxTicks              = "max_ticks"
	KeyRoomType              = "room_type"
	KeyRobotPersuasion       = "robot_persuasion"

	// Meta keys consumed during expansion rather than passed through to
	// the engine.
	KeySeed         = "seed"
	KeyNumOfSamples = "num_of_samples"
	KeyEnableVideo  = "enable_video"
)

var knownParams = map[string]bool{
	KeyNumOfRobots:           true,
	KeyNumOfPassengers:       true,
	KeyNumOfStaff:            true,
	KeyFallLength:            true,
	KeyFallChance:            true,
	KeyAllowStaffSupport:     true,
	KeyAllowPassengerSupport: true,
	KeyMaxTicks:              true,
	KeyRoomType:              true,
	KeyRobotPersuasion:       true,
	KeySeed:                  true,
	KeyNumOfSamples:          true,
	KeyEnableVideo:           true,
}

// scalarOnlyParams cannot be swept over multiple values.
var scalarOnlyParams = map[string]bool{
	KeySeed:         true,
	KeyNumOfSamples: true,
	KeyEnableVideo:  true,
}

// KnownParam reports whether key is an accepted parameter name.
func KnownParam(key string) bool {
	return knownParams[key]
}

// ParamSet maps parameter keys to their configured values.
type ParamSet map[string]ParamValue

// Validate rejects unknown keys, multi-valued meta keys and malformed
// ranges. Parameter typos must stop a sweep before any run is scheduled.
func (s ParamSet) Validate() error {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !knownParams[key] {
			return fmt.Errorf("unknown parameter %q", key)
		}
		value := s[key]
		if scalarOnlyParams[key] && value.Multi() {
			return fmt.Errorf("parameter %q cannot take multiple values", key)
		}
		if _, err := value.Values(); err != nil {
			return fmt.Errorf("parameter %q: %w", key, err)
		}
	}
	return nil
}

// Merge returns a new set with overrides layered on top of s. A key
// present in both keeps the override's value.
func (s ParamSet) Merge(overrides ParamSet) ParamSet {
	merged := make(ParamSet, len(s)+len(overrides))
	for key, value := range s {
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	return merged
}

// ParamValue is one configured parameter value: a plain scalar, an
// explicit list of scalars, or a numeric range.
type ParamValue struct {
	scalar any
	list   []any
	rng    *Range
}

// ScalarValue builds a single-valued ParamValue. Used by tests and
// programmatic sweep construction.
func ScalarValue(v any) ParamValue {
	return ParamValue{scalar: v}
}

// ListValue builds a ParamValue holding an explicit value list.
func ListValue(values ...any) ParamValue {
	return ParamValue{list: values}
}

// RangeValue builds a ParamValue spanning a numeric range.
func RangeValue(start, end, step float64) ParamValue {
	return ParamValue{rng: &Range{Start: start, End: end, Step: step}}
}

// UnmarshalYAML accepts a scalar, a sequence of scalars, or a mapping with
// start/end/step.
func (v *ParamValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var value any
		if err := node.Decode(&value); err != nil {
			return err
		}
		v.scalar = value
		return nil

	case yaml.SequenceNode:
		var values []any
		if err := node.Decode(&values); err != nil {
			return err
		}
		for _, item := range values {
			switch item.(type) {
			case int, int64, float64, bool, string:
			default:
				return fmt.Errorf("list values must be scalars, got %T", item)
			}
		}
		v.list = values
		return nil

	case yaml.MappingNode:
		var fields map[string]any
		if err := node.Decode(&fields); err != nil {
			return err
		}
		for key := range fields {
			if key != "start" && key != "end" && key != "step" {
				return fmt.Errorf("unknown range field %q", key)
			}
		}
		var rng Range
		if err := node.Decode(&rng); err != nil {
			return err
		}
		v.rng = &rng
		return nil

	default:
		return fmt.Errorf("unsupported parameter value (kind %d)", node.Kind)
	}
}

// Multi reports whether the value expands to more than one sample point.
func (v ParamValue) Multi() bool {
	if v.rng != nil {
		return true
	}
	return v.list != nil
}

// Single returns the scalar value, or false when the value is a list or
// range.
func (v ParamValue) Single() (any, bool) {
	if v.rng != nil || v.list != nil {
		return nil, false
	}
	return v.scalar, true
}

// Values expands the parameter to the ordered list of sample points.
func (v ParamValue) Values() ([]any, error) {
	switch {
	case v.rng != nil:
		points, err := v.rng.Values()
		if err != nil {
			return nil, err
		}
		values := make([]any, len(points))
		for i, p := range points {
			values[i] = p
		}
		return values, nil
	case v.list != nil:
		if len(v.list) == 0 {
			return nil, fmt.Errorf("value list is empty")
		}
		return append([]any(nil), v.list...), nil
	default:
		return []any{v.scalar}, nil
	}
}

// Range is a numeric parameter range with an inclusive start.
type Range struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Step  float64 `yaml:"step"`
}

// Values enumerates start, start+step, ... stopping before the first point
// past End. End itself is included when a step lands on it exactly, with a
// small tolerance for float drift.
func (r Range) Values() ([]float64, error) {
	for _, v := range []float64{r.Start, r.End, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("range bounds must be finite")
		}
	}
	if r.Step <= 0 {
		return nil, fmt.Errorf("range step must be positive, got %v", r.Step)
	}
	if r.Start > r.End {
		return nil, fmt.Errorf("range start %v exceeds end %v", r.Start, r.End)
	}

	const eps = 1e-9
	var values []float64
	for i := 0; ; i++ {
		v := r.Start + float64(i)*r.Step
		if v > r.End+r.Step*eps {
			break
		}
		if v > r.End {
			v = r.End
		}
		values = append(values, roundNoise(v))
	}
	return values, nil
}

// roundNoise strips the binary drift accumulated by repeated float
// addition, so 0.05+0.1 comes out as 0.15 rather than
// 0.15000000000000002. Twelve significant digits keeps any precision a
// sweep would legitimately ask for.
func roundNoise(v float64) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 12, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}
