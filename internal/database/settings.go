package database

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// MarshalSettings encodes settings for storage.
func MarshalSettings(s config.VerificationSettings) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return data, nil
}

// UnmarshalSettings decodes stored settings over base, so keys missing from
// older rows keep their defaults.
func UnmarshalSettings(data []byte, base config.VerificationSettings) (config.VerificationSettings, error) {
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("unmarshal settings: %w", err)
	}
	return base, nil
}
