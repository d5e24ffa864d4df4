// Package metrics provides Prometheus metrics collection for the connector.
//
// Metrics are optional: if the global registry is never initialized, the
// constructors return nil and every method on the returned types is a no-op,
// so callers never have to branch on whether metrics are enabled.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry. Write-once via
	// registryOnce, read-many afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. It is safe to
// call multiple times; only the first call has an effect. If it is never
// called, metrics stay disabled and all collectors are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}
