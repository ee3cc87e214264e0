package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// DecodeOptions decodes a free-form options map into a typed struct,
// applying field defaults and validation. No struct of the Config tree
// carries such a map, so nothing in config loading calls it. Mirrors the teacher's
// connectors/common.ParseConfig helper used to decode plugin options.
func DecodeOptions[T any](opts map[string]any) (*T, error) {
	res := new(T)
	if err := defaults.Set(res); err != nil {
		return nil, fmt.Errorf("applying option defaults: %w", err)
	}
	if err := mapstructure.Decode(opts, res); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	if err := validator.New().Struct(res); err != nil {
		return nil, fmt.Errorf("validating options: %w", err)
	}
	return res, nil
}
