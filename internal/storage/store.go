// Package storage is the durability collaborator: append-only collections of
// JSON-like records. Nothing here sits on the client-facing response path;
// interaction forwarding goes through the async Writer.
package storage

import (
	"context"
	"fmt"
	"time"
)

// Collection names.
const (
	CollectionInteractions      = "interactions"
	CollectionInsights          = "insights"
	CollectionInsightOperations = "insight_operations"
	CollectionQuestions         = "questions"
	CollectionResponses         = "responses"
)

var collections = []string{
	CollectionInteractions,
	CollectionInsights,
	CollectionInsightOperations,
	CollectionQuestions,
	CollectionResponses,
}

// Record is one loosely shaped document. Every persisted record carries a
// timestamp field as an ISO-8601 string; Stamp fills it in when absent.
type Record map[string]any

// Stamp sets the timestamp field if the record does not already carry one.
func (r Record) Stamp(now time.Time) {
	if _, ok := r["timestamp"]; !ok {
		r["timestamp"] = now.UTC().Format(time.RFC3339)
	}
}

// Store appends records to named collections.
type Store interface {
	Add(ctx context.Context, collection string, record Record) error
	Close() error
}

func validCollection(name string) error {
	for _, c := range collections {
		if c == name {
			return nil
		}
	}
	return fmt.Errorf("unknown collection %q", name)
}
