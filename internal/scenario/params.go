package scenario

import (
	"fmt"
	"math"

	"github.com/evaclab/egress/internal/config"
	"github.com/evaclab/egress/pkg/models"
)

// applyParam sets one engine parameter on p from a configuration value.
// Keys were validated during config loading, so an unknown key here is a
// programming error, not user input.
func applyParam(p *models.Params, key string, value any) error {
	fail := func(err error) error {
		return fmt.Errorf("parameter %q: %w", key, err)
	}

	switch key {
	case config.KeyNumOfRobots:
		n, err := asInt(value)
		if err != nil {
			return fail(err)
		}
		p.NumOfRobots = n
	case config.KeyNumOfPassengers:
		n, err := asInt(value)
		if err != nil {
			return fail(err)
		}
		p.NumOfPassengers = n
	case config.KeyNumOfStaff:
		n, err := asInt(value)
		if err != nil {
			return fail(err)
		}
		p.NumOfStaff = n
	case config.KeyFallLength:
		n, err := asInt(value)
		if err != nil {
			return fail(err)
		}
		p.FallLength = n
	case config.KeyFallChance:
		f, err := asFloat(value)
		if err != nil {
			return fail(err)
		}
		p.FallChance = f
	case config.KeyAllowStaffSupport:
		b, err := asBool(value)
		if err != nil {
			return fail(err)
		}
		p.AllowStaffSupport = b
	case config.KeyAllowPassengerSupport:
		b, err := asBool(value)
		if err != nil {
			return fail(err)
		}
		p.AllowPassengerSupport = b
	case config.KeyMaxTicks:
		n, err := asInt(value)
		if err != nil {
			return fail(err)
		}
		p.MaxTicks = n
	case config.KeyRoomType:
		n, err := asInt(value)
		if err != nil {
			return fail(err)
		}
		p.RoomType = n
	case config.KeyRobotPersuasion:
		f, err := asFloat(value)
		if err != nil {
			return fail(err)
		}
		p.RobotPersuasion = f
	default:
		return fmt.Errorf("unknown parameter %q", key)
	}
	return nil
}

// asInt accepts the integer shapes YAML and JSON5 decoding produce.
// Floats are accepted only when they carry an exact integer value.
func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

func asInt64(value any) (int64, error) {
	n, err := asInt(value)
	return int64(n), err
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", value)
	}
}

func asBool(value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean, got %T", value)
	}
	return b, nil
}
