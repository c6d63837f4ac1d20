// Package log provides the global zerolog-based logger and child-logger
// helpers used across the control plane. Call Init once at startup.
package log
