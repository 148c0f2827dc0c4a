// Package datasync runs data-ingestion jobs through an external connector
// and records their outcome on the sync schedule.
package datasync

import (
	"context"

	"github.com/rendis/autoflow/internal/store"
)

// Outcome is what a connector reports for one job run.
type Outcome struct {
	Success       bool   `json:"success"`
	RecordsSynced int    `json:"records_synced"`
	Error         string `json:"error,omitempty"`
}

// Connector fetches external data for a sync job into the store.
// A returned error is a transport failure; a reported failure is an Outcome
// with Success=false.
type Connector interface {
	Sync(ctx context.Context, job *store.SyncSchedule) (*Outcome, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, job *store.SyncSchedule) (*Outcome, error)

func (f ConnectorFunc) Sync(ctx context.Context, job *store.SyncSchedule) (*Outcome, error) {
	return f(ctx, job)
}
