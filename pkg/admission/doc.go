// Package admission gates tenant requests against per-org rate limits
// and quota ceilings before any state is created.
package admission
