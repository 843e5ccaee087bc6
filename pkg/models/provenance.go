// Package models contains the persisted and shared domain types for ekaya-reasoner.
package models

import (
	"context"
)

// EdgeOrigin represents how an edge entered the store.
type EdgeOrigin string

const (
	OriginExplicit EdgeOrigin = "explicit" // Written by the application
	OriginInferred EdgeOrigin = "inferred" // Produced by ontology rules
	OriginComputed EdgeOrigin = "computed" // Produced by a computed-edge provider
)

// String returns the string representation of an EdgeOrigin.
func (o EdgeOrigin) String() string {
	return string(o)
}

// RecomputeTrigger carries why a recomputation is running so that derived
// edges can record it in their provenance.
type RecomputeTrigger struct {
	// Reason is a short label such as "materialize" or "dependency-changed".
	Reason string
	// EntityType and EntityID identify the entity whose change caused the run.
	EntityType string
	EntityID   string
}

type recomputeTriggerKey struct{}

// WithRecomputeTrigger returns a new context with trigger information attached.
func WithRecomputeTrigger(ctx context.Context, t RecomputeTrigger) context.Context {
	return context.WithValue(ctx, recomputeTriggerKey{}, t)
}

// GetRecomputeTrigger retrieves trigger information from the context.
func GetRecomputeTrigger(ctx context.Context) (RecomputeTrigger, bool) {
	t, ok := ctx.Value(recomputeTriggerKey{}).(RecomputeTrigger)
	return t, ok
}
