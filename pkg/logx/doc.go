// Package logx wraps zerolog with a small, service-friendly API.
//
// Components receive a Logger value and derive scoped loggers via With().
// The Service owns the sinks (console, file) and can re-apply configuration
// at runtime without invalidating previously handed-out loggers.
package logx
