package telemetry

import "fmt"

// Config controls OpenTelemetry metrics instrumentation.
type Config struct {
	// ServiceName identifies the service in exported metrics.
	ServiceName string

	// ServiceVersion is the running build version.
	ServiceVersion string

	// Enabled toggles metric export. When false, New returns a no-op
	// instance and instruments record into the global no-op provider.
	Enabled bool
}

// NewDefaultConfig returns a Config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		ServiceName:    "nerond",
		ServiceVersion: "dev",
		Enabled:        true,
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("telemetry config is nil")
	}
	if c.Enabled && c.ServiceName == "" {
		return fmt.Errorf("service name is required when telemetry is enabled")
	}
	return nil
}
