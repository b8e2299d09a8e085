// Package config loads pipeline tuning options from the environment.
//
// Connection secrets (PG_URL, NATS_URL) are not handled here — the
// entrypoints load those from Vault, with env fallbacks, via SecretManager.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigError reports an unusable option value. It is fatal at startup only;
// nothing in the pipeline constructs one after Load has returned.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Option, e.Reason)
}

// Config carries every recognized tuning option with its resolved value.
type Config struct {
	// SourcesEnabled is the subset of registry source tags to poll.
	SourcesEnabled []string
	// PollIntervals overrides the registry's min poll interval per source tag.
	PollIntervals map[string]time.Duration

	WindowHours    int
	ClusterEpsKm   float64
	ClusterDtSec   float64
	ClusterDMag    float64
	MatchThreshold float64

	WeightTime      float64
	WeightDistance  float64
	WeightMagnitude float64

	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryCap         time.Duration
	Timeout          time.Duration

	// ClusterEvery is the clustering cadence in worker mode.
	ClusterEvery time.Duration
	// HTTPAddr is the ops API listen address in worker mode.
	HTTPAddr string
}

// Defaults per the published tuning table.
const (
	defaultWindowHours    = 24
	defaultEpsKm          = 100.0
	defaultDtSec          = 30.0
	defaultDMag           = 0.5
	defaultMatchThreshold = 0.6
	defaultWeightTime     = 0.4
	defaultWeightDistance = 0.4
	defaultWeightMag      = 0.2
	defaultRetryAttempts  = 3
	defaultRetryBase      = 1 * time.Second
	defaultRetryCap       = 30 * time.Second
	defaultTimeout        = 30 * time.Second
	defaultClusterEvery   = 5 * time.Minute
	defaultHTTPAddr       = ":8080"
)

// Load reads the environment and returns the resolved configuration.
// Unset options take their defaults; malformed or inconsistent values return
// a *ConfigError.
func Load() (Config, error) {
	cfg := Config{
		PollIntervals:    map[string]time.Duration{},
		WindowHours:      defaultWindowHours,
		ClusterEpsKm:     defaultEpsKm,
		ClusterDtSec:     defaultDtSec,
		ClusterDMag:      defaultDMag,
		MatchThreshold:   defaultMatchThreshold,
		WeightTime:       defaultWeightTime,
		WeightDistance:   defaultWeightDistance,
		WeightMagnitude:  defaultWeightMag,
		RetryMaxAttempts: defaultRetryAttempts,
		RetryBase:        defaultRetryBase,
		RetryCap:         defaultRetryCap,
		Timeout:          defaultTimeout,
		ClusterEvery:     defaultClusterEvery,
		HTTPAddr:         defaultHTTPAddr,
	}

	if v := os.Getenv("SOURCES_ENABLED"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(strings.ToLower(tag))
			if tag != "" {
				cfg.SourcesEnabled = append(cfg.SourcesEnabled, tag)
			}
		}
	}

	// POLL_INTERVAL_<SOURCE>=90s style overrides.
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "POLL_INTERVAL_") {
			continue
		}
		tag := strings.ToLower(strings.TrimPrefix(key, "POLL_INTERVAL_"))
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			return cfg, &ConfigError{Option: key, Reason: "must be a positive duration"}
		}
		cfg.PollIntervals[tag] = d
	}

	var err error
	if cfg.WindowHours, err = intOpt("WINDOW_HOURS", cfg.WindowHours); err != nil {
		return cfg, err
	}
	if cfg.ClusterEpsKm, err = floatOpt("CLUSTER_EPS_KM", cfg.ClusterEpsKm); err != nil {
		return cfg, err
	}
	if cfg.ClusterDtSec, err = floatOpt("CLUSTER_DT_S", cfg.ClusterDtSec); err != nil {
		return cfg, err
	}
	if cfg.ClusterDMag, err = floatOpt("CLUSTER_DMAG", cfg.ClusterDMag); err != nil {
		return cfg, err
	}
	if cfg.MatchThreshold, err = floatOpt("MATCH_THRESHOLD", cfg.MatchThreshold); err != nil {
		return cfg, err
	}
	if cfg.WeightTime, err = floatOpt("SCORING_WEIGHT_TIME", cfg.WeightTime); err != nil {
		return cfg, err
	}
	if cfg.WeightDistance, err = floatOpt("SCORING_WEIGHT_DISTANCE", cfg.WeightDistance); err != nil {
		return cfg, err
	}
	if cfg.WeightMagnitude, err = floatOpt("SCORING_WEIGHT_MAGNITUDE", cfg.WeightMagnitude); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = intOpt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryBase, err = msOpt("RETRY_BASE_MS", cfg.RetryBase); err != nil {
		return cfg, err
	}
	if cfg.RetryCap, err = msOpt("RETRY_CAP_MS", cfg.RetryCap); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = msOpt("TIMEOUT_MS", cfg.Timeout); err != nil {
		return cfg, err
	}
	if cfg.ClusterEvery, err = durOpt("CLUSTER_EVERY", cfg.ClusterEvery); err != nil {
		return cfg, err
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.WindowHours <= 0 {
		return &ConfigError{Option: "WINDOW_HOURS", Reason: "must be positive"}
	}
	if c.ClusterEpsKm <= 0 {
		return &ConfigError{Option: "CLUSTER_EPS_KM", Reason: "must be positive"}
	}
	if c.ClusterDtSec <= 0 {
		return &ConfigError{Option: "CLUSTER_DT_S", Reason: "must be positive"}
	}
	if c.ClusterDMag <= 0 {
		return &ConfigError{Option: "CLUSTER_DMAG", Reason: "must be positive"}
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return &ConfigError{Option: "MATCH_THRESHOLD", Reason: "must be in [0, 1]"}
	}
	sum := c.WeightTime + c.WeightDistance + c.WeightMagnitude
	if math.Abs(sum-1.0) > 1e-9 {
		return &ConfigError{
			Option: "SCORING_WEIGHT_*",
			Reason: fmt.Sprintf("weights must sum to 1, got %g", sum),
		}
	}
	if c.RetryMaxAttempts < 0 {
		return &ConfigError{Option: "RETRY_MAX_ATTEMPTS", Reason: "must be >= 0"}
	}
	return nil
}

// ── env parsing helpers ───────────────────────────────────────────────────

func intOpt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, &ConfigError{Option: key, Reason: "must be an integer"}
	}
	return n, nil
}

func floatOpt(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, &ConfigError{Option: key, Reason: "must be a number"}
	}
	return f, nil
}

func msOpt(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return def, &ConfigError{Option: key, Reason: "must be a non-negative millisecond count"}
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func durOpt(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, &ConfigError{Option: key, Reason: "must be a positive duration"}
	}
	return d, nil
}
