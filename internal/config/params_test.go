package config

import (
	"math"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRange_Values(t *testing.T) {
	t.Run("canonical fall chance sweep", func(t *testing.T) {
		r := Range{Start: 0.05, End: 1.0, Step: 0.1}
		values, err := r.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if len(values) != 10 {
			t.Fatalf("len(values) = %d, want 10", len(values))
		}
		for i, v := range values {
			want := 0.05 + float64(i)*0.1
			if math.Abs(v-want) > 1e-12 {
				t.Errorf("values[%d] = %v, want %v", i, v, want)
			}
		}
		if last := values[len(values)-1]; math.Abs(last-0.95) > 1e-12 {
			t.Errorf("last value = %v, want 0.95", last)
		}
	})

	t.Run("values carry no float drift", func(t *testing.T) {
		r := Range{Start: 0.05, End: 1.0, Step: 0.1}
		values, err := r.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		// Repeated addition would give 0.15000000000000002 here.
		if values[1] != 0.15 {
			t.Errorf("values[1] = %v, want exactly 0.15", values[1])
		}
		if values[4] != 0.45 {
			t.Errorf("values[4] = %v, want exactly 0.45", values[4])
		}
	})

	t.Run("includes end when a step lands on it", func(t *testing.T) {
		r := Range{Start: 0, End: 0.3, Step: 0.1}
		values, err := r.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if len(values) != 4 {
			t.Fatalf("len(values) = %d, want 4 (%v)", len(values), values)
		}
		if values[3] != 0.3 {
			t.Errorf("values[3] = %v, want exactly 0.3", values[3])
		}
	})

	t.Run("never exceeds end", func(t *testing.T) {
		r := Range{Start: 0, End: 10, Step: 3}
		values, err := r.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		want := []float64{0, 3, 6, 9}
		if len(values) != len(want) {
			t.Fatalf("values = %v, want %v", values, want)
		}
		for i := range want {
			if values[i] != want[i] {
				t.Errorf("values[%d] = %v, want %v", i, values[i], want[i])
			}
		}
	})

	t.Run("single point when start equals end", func(t *testing.T) {
		r := Range{Start: 5, End: 5, Step: 1}
		values, err := r.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if len(values) != 1 || values[0] != 5 {
			t.Errorf("values = %v, want [5]", values)
		}
	})

	t.Run("rejects zero step", func(t *testing.T) {
		r := Range{Start: 0, End: 1, Step: 0}
		if _, err := r.Values(); err == nil {
			t.Error("Values() with zero step should fail")
		}
	})

	t.Run("rejects negative step", func(t *testing.T) {
		r := Range{Start: 0, End: 1, Step: -0.1}
		if _, err := r.Values(); err == nil {
			t.Error("Values() with negative step should fail")
		}
	})

	t.Run("rejects start past end", func(t *testing.T) {
		r := Range{Start: 2, End: 1, Step: 0.5}
		if _, err := r.Values(); err == nil {
			t.Error("Values() with start > end should fail")
		}
	})

	t.Run("rejects NaN bounds", func(t *testing.T) {
		r := Range{Start: math.NaN(), End: 1, Step: 0.5}
		if _, err := r.Values(); err == nil {
			t.Error("Values() with NaN start should fail")
		}
	})
}

func TestParamValue_UnmarshalYAML(t *testing.T) {
	t.Run("scalar", func(t *testing.T) {
		var v ParamValue
		if err := yaml.Unmarshal([]byte(`3`), &v); err != nil {
			t.Fatalf("Unmarshal error = %v", err)
		}
		if v.Multi() {
			t.Error("scalar should not be multi-valued")
		}
		single, ok := v.Single()
		if !ok || single != 3 {
			t.Errorf("Single() = %v, %v, want 3, true", single, ok)
		}
	})

	t.Run("list", func(t *testing.T) {
		var v ParamValue
		if err := yaml.Unmarshal([]byte(`[0, 1, 2]`), &v); err != nil {
			t.Fatalf("Unmarshal error = %v", err)
		}
		if !v.Multi() {
			t.Error("list should be multi-valued")
		}
		values, err := v.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if len(values) != 3 || values[0] != 0 || values[2] != 2 {
			t.Errorf("Values() = %v, want [0 1 2]", values)
		}
	})

	t.Run("range", func(t *testing.T) {
		var v ParamValue
		if err := yaml.Unmarshal([]byte(`{start: 0.05, end: 1.0, step: 0.1}`), &v); err != nil {
			t.Fatalf("Unmarshal error = %v", err)
		}
		values, err := v.Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if len(values) != 10 {
			t.Errorf("len(Values()) = %d, want 10", len(values))
		}
	})

	t.Run("rejects unknown range field", func(t *testing.T) {
		var v ParamValue
		err := yaml.Unmarshal([]byte(`{start: 0, end: 1, stride: 0.1}`), &v)
		if err == nil || !strings.Contains(err.Error(), "stride") {
			t.Errorf("error = %v, want unknown range field", err)
		}
	})

	t.Run("rejects nested lists", func(t *testing.T) {
		var v ParamValue
		if err := yaml.Unmarshal([]byte(`[[1, 2], [3]]`), &v); err == nil {
			t.Error("nested list should fail")
		}
	})
}

func TestParamValue_Values(t *testing.T) {
	t.Run("scalar yields one value", func(t *testing.T) {
		values, err := ScalarValue(true).Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if len(values) != 1 || values[0] != true {
			t.Errorf("Values() = %v, want [true]", values)
		}
	})

	t.Run("empty list rejected", func(t *testing.T) {
		if _, err := ListValue().Values(); err == nil {
			t.Error("empty list should fail")
		}
	})

	t.Run("list preserves order", func(t *testing.T) {
		values, err := ListValue(8, 2, 5).Values()
		if err != nil {
			t.Fatalf("Values() error = %v", err)
		}
		if values[0] != 8 || values[1] != 2 || values[2] != 5 {
			t.Errorf("Values() = %v, want [8 2 5]", values)
		}
	})
}

func TestParamSet_Validate(t *testing.T) {
	t.Run("accepts known keys", func(t *testing.T) {
		set := ParamSet{
			KeyNumOfRobots: ScalarValue(1),
			KeyFallChance:  RangeValue(0.05, 1.0, 0.1),
			KeySeed:        ScalarValue(42),
		}
		if err := set.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("rejects unknown key", func(t *testing.T) {
		set := ParamSet{"num_of_robbots": ScalarValue(1)}
		err := set.Validate()
		if err == nil || !strings.Contains(err.Error(), "num_of_robbots") {
			t.Errorf("error = %v, want unknown parameter", err)
		}
	})

	t.Run("rejects swept meta key", func(t *testing.T) {
		set := ParamSet{KeySeed: ListValue(1, 2)}
		err := set.Validate()
		if err == nil || !strings.Contains(err.Error(), "seed") {
			t.Errorf("error = %v, want scalar-only violation", err)
		}
	})

	t.Run("rejects malformed range", func(t *testing.T) {
		set := ParamSet{KeyFallChance: RangeValue(1.0, 0.5, 0.1)}
		if err := set.Validate(); err == nil {
			t.Error("start > end should fail validation")
		}
	})
}

func TestParamSet_Merge(t *testing.T) {
	defaults := ParamSet{
		KeyNumOfRobots:     ScalarValue(1),
		KeyNumOfPassengers: ScalarValue(800),
	}
	overrides := ParamSet{
		KeyNumOfRobots: ScalarValue(0),
		KeyFallChance:  ScalarValue(0.5),
	}

	merged := defaults.Merge(overrides)

	if v, _ := merged[KeyNumOfRobots].Single(); v != 0 {
		t.Errorf("merged num_of_robots = %v, want override 0", v)
	}
	if v, _ := merged[KeyNumOfPassengers].Single(); v != 800 {
		t.Errorf("merged num_of_passengers = %v, want default 800", v)
	}
	if v, _ := merged[KeyFallChance].Single(); v != 0.5 {
		t.Errorf("merged fall_chance = %v, want 0.5", v)
	}

	// Merge must not mutate its receiver.
	if _, ok := defaults[KeyFallChance]; ok {
		t.Error("Merge mutated the defaults set")
	}
	if v, _ := defaults[KeyNumOfRobots].Single(); v != 1 {
		t.Error("Merge overwrote a default in place")
	}
}
