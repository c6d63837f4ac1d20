// Package controlplane assembles the stores, registries, policy
// workers, and admin server into one runnable process.
package controlplane
