package configuration

import "time"

// Duration is a time.Duration value that supports unmarshalling from
// human-friendly string representations (e.g. "200ms", "1m30s") in YAML
// configuration files.
type Duration time.Duration

// UnmarshalText implements the text unmarshalling interface used when loading
// from YAML files.
func (d *Duration) UnmarshalText(textBytes []byte) error {
	value, err := time.ParseDuration(string(textBytes))
	if err != nil {
		return err
	}
	*d = Duration(value)
	return nil
}

// Duration returns the duration as a time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
