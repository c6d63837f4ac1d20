// Package events distributes sandbox lifecycle notifications to
// in-process subscribers and to NATS subjects consumed by SDK event
// streams. Policy workers record events through the Recorder interface.
package events
