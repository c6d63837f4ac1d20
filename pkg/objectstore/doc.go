// Package objectstore abstracts the blob store holding sandbox
// artifacts and replay event logs, backed by a NATS JetStream object
// bucket in production and an in-memory map in tests.
package objectstore
