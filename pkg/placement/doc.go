// Package placement assigns queued sandboxes to node slots, lease
// first so capacity can never be double-booked.
package placement
