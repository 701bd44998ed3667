// Package config loads the client's runtime configuration the way the
// teacher SDK does: viper with an optional .env file, falling back to
// process environment variables so the client works unchanged in
// containerized deployments that have no file at all.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Settings mirrors the configuration surface from spec section 6:
// retry caps/extras/jitter, custom headers, and the server-type
// classifier inputs. Values are read at request time by callers that
// want to honor changes made after client construction; Load produces a
// fresh snapshot.
type Settings struct {
	MaxRetries         int     `mapstructure:"client_max_retries"`
	RetryExtraCodes    string  `mapstructure:"client_retry_extra_codes"`
	RetryJitterFactor  float64 `mapstructure:"client_retry_jitter_factor"`
	CustomHeadersRaw   any     `mapstructure:"client_custom_headers"`
	APIURL             string  `mapstructure:"api_url"`
	CloudAPIURL        string  `mapstructure:"cloud_api_url"`
	AllowEphemeralMode bool    `mapstructure:"server_allow_ephemeral_mode"`
}

const (
	defaultMaxRetries        = 5
	defaultRetryJitterFactor = 0.2
)

// Load reads configuration from environment variables or a ".env" file in
// the working directory, falling back to defaults when a key is unset.
// It tolerates a missing .env file the same way the teacher's
// LoadConfig does: only genuine read errors are surfaced.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("client_max_retries", defaultMaxRetries)
	v.SetDefault("client_retry_jitter_factor", defaultRetryJitterFactor)
	v.SetDefault("client_retry_extra_codes", "")
	v.SetDefault("server_allow_ephemeral_mode", false)
	// Keys without a default are unknown to Unmarshal unless bound.
	for _, key := range []string{"client_custom_headers", "api_url", "cloud_api_url"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("Warning: error reading config file: %v", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}
	return settings, nil
}

// RetryExtraCodeSet parses the comma-delimited RetryExtraCodes string
// into a set of integer status codes, per spec section 3.
func (s *Settings) RetryExtraCodeSet() (map[int]struct{}, error) {
	codes := map[int]struct{}{}
	raw := strings.TrimSpace(s.RetryExtraCodes)
	if raw == "" {
		return codes, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("parsing retry extra code %q: %w", part, err)
		}
		codes[n] = struct{}{}
	}
	return codes, nil
}

// CustomHeaders normalizes CustomHeadersRaw, which may arrive as a
// map[string]any (from a structured config file) or a JSON-encoded
// string (as from an environment variable), into a plain
// map[string]string per spec section 4.C point 4.
func (s *Settings) CustomHeaders() (map[string]string, error) {
	switch v := s.CustomHeadersRaw.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprintf("%v", val)
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return map[string]string{}, nil
		}
		out := map[string]string{}
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return nil, fmt.Errorf("decoding client_custom_headers JSON: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported client_custom_headers type %T", v)
	}
}
