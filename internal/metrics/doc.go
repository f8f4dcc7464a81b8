// Package metrics records bootstrap and lifecycle measurements. The default
// collector discards everything; NewPrometheus exports them.
package metrics
