package config

import "fmt"

// CurrentVersion is the latest supported configuration file version.
const CurrentVersion = 1

// VersionError describes a configuration version mismatch.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade egress to run this sweep", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is unsupported (current: %d)", e.Version, e.Current)
}

// ValidateVersion ensures the provided config version is supported. A
// missing version (zero) is treated as the current one so hand-written
// sweep files stay terse.
func ValidateVersion(version int) error {
	if version == 0 || version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion}
}

// checkVersion validates the version key of a raw config map before the
// strict decode, so version mismatches surface as themselves rather than
// as field errors.
func checkVersion(raw map[string]any) error {
	value, ok := raw["version"]
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case int:
		return ValidateVersion(v)
	case int64:
		return ValidateVersion(int(v))
	case uint64:
		return ValidateVersion(int(v))
	case float64:
		if v != float64(int(v)) {
			return fmt.Errorf("config version must be an integer, got %v", v)
		}
		return ValidateVersion(int(v))
	default:
		return fmt.Errorf("config version must be an integer, got %T", value)
	}
}
