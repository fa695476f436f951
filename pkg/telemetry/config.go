// SPDX-License-Identifier: BSD-3-Clause

package telemetry

// Config holds the configuration for the telemetry provider.
type Config struct {
	serviceName    string
	serviceVersion string
	enableTraces   bool
	enableMetrics  bool
	samplingRatio  float64
	resourceAttrs  map[string]string
}

// DefaultConfig returns a default configuration: tracing and metrics
// enabled, full sampling, no exporter wired (spans and measurements stay
// in-process until an exporter option is added).
func DefaultConfig() *Config {
	return &Config{
		serviceName:    "cabinetd",
		serviceVersion: "0.0.0",
		enableTraces:   true,
		enableMetrics:  true,
		samplingRatio:  1.0,
		resourceAttrs:  make(map[string]string),
	}
}

// Option configures a Config.
type Option func(*Config)

// WithServiceName sets the service name attached to every span and metric.
func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

// WithServiceVersion sets the service version resource attribute.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

// WithTraces enables or disables trace generation.
func WithTraces(enabled bool) Option {
	return func(c *Config) { c.enableTraces = enabled }
}

// WithMetrics enables or disables metric generation.
func WithMetrics(enabled bool) Option {
	return func(c *Config) { c.enableMetrics = enabled }
}

// WithSamplingRatio sets the trace sampling ratio, clamped to [0, 1].
func WithSamplingRatio(ratio float64) Option {
	return func(c *Config) {
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		c.samplingRatio = ratio
	}
}

// WithResourceAttributes attaches additional resource attributes.
func WithResourceAttributes(attrs map[string]string) Option {
	return func(c *Config) { c.resourceAttrs = attrs }
}
