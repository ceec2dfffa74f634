// Package gateway exposes the merged graph over a single HTTP endpoint and
// holds the yaml-backed runtime configuration.
package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// ServiceOption configures one backing subgraph.
type ServiceOption struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	// SchemaFiles optionally pins the subgraph's SDL to local files instead
	// of fetching it from the service at startup.
	SchemaFiles []string `yaml:"schema_files"`
}

// RetryOption defines the retry configuration for startup SDL fetching.
type RetryOption struct {
	Attempts int    `yaml:"attempts" default:"3"`
	Timeout  string `yaml:"timeout"  default:"5s"`
}

// OpentelemetrySetting toggles tracing.
type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

// OpentelemetryTracingSetting enables the otel transport and handler.
type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

// GatewayOption is the gateway's full configuration.
type GatewayOption struct {
	Endpoint        string          `yaml:"endpoint" default:"/graphql"`
	ServiceName     string          `yaml:"service_name"`
	Port            int             `yaml:"port" default:"8080"`
	TimeoutDuration string          `yaml:"timeout_duration" default:"5s"`
	Services        []ServiceOption `yaml:"services"`
	SchemaFetch     RetryOption     `yaml:"schema_fetch"`

	// SchemaCacheTTL bounds how long fetched subgraph SDLs are reused
	// before a refresh.
	SchemaCacheTTL string `yaml:"schema_cache_ttl" default:"1h"`

	// MaxBatchSize caps the keys of a single relationship batch call.
	MaxBatchSize int `yaml:"max_batch_size" default:"20"`
	// BatchWait is the collect window of the relationship loaders.
	BatchWait string `yaml:"batch_wait" default:"1ms"`
	// FallbackPerKey retries each key of a failed batch individually.
	FallbackPerKey bool `yaml:"fallback_per_key" default:"false"`

	// MissingUserPolicy is "error" or "null": whether a one-to-one
	// relationship pointing at a nonexistent entity reports a field error.
	MissingUserPolicy string `yaml:"missing_user_policy" default:"error"`

	// AllowOrigin is the CORS allow-origin value.
	AllowOrigin string `yaml:"allow_origin" default:"*"`
	// PassthroughHeaders are inbound headers forwarded to subgraph calls.
	PassthroughHeaders []string `yaml:"passthrough_headers"`

	EnableHangOverRequestHeader bool                 `yaml:"enable_hang_over_request_header" default:"true"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
}

// LoadConfig reads and decodes a yaml configuration file, applying defaults.
func LoadConfig(path string) (GatewayOption, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return GatewayOption{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var opt GatewayOption
	if err := yaml.Unmarshal(src, &opt); err != nil {
		return GatewayOption{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	opt.ApplyDefaults()
	return opt, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (o *GatewayOption) ApplyDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = "/graphql"
	}
	if o.Port == 0 {
		o.Port = 8080
	}
	if o.TimeoutDuration == "" {
		o.TimeoutDuration = "5s"
	}
	if o.SchemaCacheTTL == "" {
		o.SchemaCacheTTL = "1h"
	}
	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = 20
	}
	if o.BatchWait == "" {
		o.BatchWait = "1ms"
	}
	if o.MissingUserPolicy == "" {
		o.MissingUserPolicy = "error"
	}
	if o.AllowOrigin == "" {
		o.AllowOrigin = "*"
	}
	if o.SchemaFetch.Attempts == 0 {
		o.SchemaFetch.Attempts = 3
	}
	if o.SchemaFetch.Timeout == "" {
		o.SchemaFetch.Timeout = "5s"
	}
}

// Timeout parses TimeoutDuration, falling back to 5s on malformed input.
func (o GatewayOption) Timeout() time.Duration {
	return parseDurationOr(o.TimeoutDuration, 5*time.Second)
}

// CacheTTL parses SchemaCacheTTL, falling back to one hour.
func (o GatewayOption) CacheTTL() time.Duration {
	return parseDurationOr(o.SchemaCacheTTL, time.Hour)
}

// Wait parses BatchWait, falling back to 1ms.
func (o GatewayOption) Wait() time.Duration {
	return parseDurationOr(o.BatchWait, time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
