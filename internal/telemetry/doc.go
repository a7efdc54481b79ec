// Package telemetry samples object values into a time-series store.
package telemetry
