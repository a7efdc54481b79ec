// Package logging builds the node's structured logger on log/slog.
//
// Records carry service and version attributes and are written as JSON
// unless logging.format is "text". When logging.file.path is set the
// stream is also teed into a size-rotated file.
//
// Attributes keyed auth, auth_token, token or password are replaced with
// "[redacted]" so the shared node token cannot leak through a careless
// log call.
package logging
