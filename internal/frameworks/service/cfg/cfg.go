// Package cfg decodes the raw TOML tables handed to services, interceptors
// and drivers into typed config structs.
package cfg

import (
	"fmt"
	"slices"

	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by config structs that fill in their own defaults.
// It runs after decoding.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes input into c, ignoring keys c does not declare.
func Decode(input map[string]any, c any) error {
	_, err := decode(input, c)
	return err
}

// DecodeWithUnused decodes input into c and returns the sorted keys c does
// not declare, for the caller to warn about.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	return decode(input, c)
}

// DecodeStrict decodes input into c and fails on any undeclared key.
func DecodeStrict(input map[string]any, c any) error {
	unused, err := decode(input, c)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return fmt.Errorf("unknown config keys: %v", unused)
	}
	return nil
}

// decode is shared by the exported helpers. Durations may be written as
// strings ("15s") and scalars are converted between TOML's int, float and
// string forms.
func decode(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(input); err != nil {
		return nil, err
	}
	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	unused := slices.Clone(md.Unused)
	slices.Sort(unused)
	return unused, nil
}
