// Package config loads a RoomLink node's YAML configuration.
//
// Load starts from built-in defaults, overlays the file, then applies
// ROOMLINK_* environment variables, and validates the result. Driver
// parameters are kept as raw maps here and decoded by the driver that
// owns them.
//
// Put the shared token in ROOMLINK_NODE_AUTH_TOKEN rather than the
// file, or keep the file mode at 0600.
package config
