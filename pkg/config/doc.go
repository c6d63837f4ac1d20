// Package config loads the control plane's YAML configuration.
package config
