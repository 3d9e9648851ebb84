// Package ledger is the append-only audit trail for gated access attempts.
// One entry is recorded per attempt, keyed by the consuming agent and the
// accessed data source; entries are never updated or deleted.
package ledger

import (
	"context"
	"fmt"

	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/metrics"
	"github.com/datagate-io/datagate/storage"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Storage is the persistence surface the ledger needs.
type Storage interface {
	CreateAccessLog(ctx context.Context, log storage.AccessLog) (*storage.AccessLog, error)
	AccessLogsByAgent(ctx context.Context, agentID string) ([]storage.AccessLog, error)
	AccessLogsByDataSources(ctx context.Context, dataSourceIDs []string) ([]storage.AccessLog, error)
	DataSourcesByCreator(ctx context.Context, creatorID string) ([]storage.DataSource, error)
}

// Ledger records and lists access log entries.
type Ledger struct {
	store Storage
	log   logger.Logger
	rec   metrics.Recorder
}

// New creates a ledger over the given storage. Logger and recorder may be nil.
func New(store Storage, log logger.Logger, rec metrics.Recorder) *Ledger {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Ledger{store: store, log: log, rec: rec}
}

// Record appends one audit entry. Status must be one of success, pending or
// failed; successful entries must carry the amount paid, failed entries must
// not.
func (l *Ledger) Record(ctx context.Context, agentID, dataSourceID string, path *string, status string, amount *string) (*storage.AccessLog, error) {
	switch status {
	case StatusSuccess:
		if amount == nil {
			return nil, fmt.Errorf("ledger: success entry requires an amount")
		}
	case StatusPending:
	case StatusFailed:
		amount = nil
	default:
		return nil, fmt.Errorf("ledger: invalid status %q", status)
	}

	entry, err := l.store.CreateAccessLog(ctx, storage.AccessLog{
		AgentID:      agentID,
		DataSourceID: dataSourceID,
		Path:         path,
		Status:       status,
		Amount:       amount,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	l.rec.IncCounter(metrics.CounterLedgerAppend, map[string]string{"network": ""})
	l.log.Debug("access recorded", map[string]any{
		"agent":      agentID,
		"dataSource": dataSourceID,
		"status":     status,
	})
	return entry, nil
}

// ListByAgent returns an agent's entries, newest first.
func (l *Ledger) ListByAgent(ctx context.Context, agentID string) ([]storage.AccessLog, error) {
	return l.store.AccessLogsByAgent(ctx, agentID)
}

// ListByCreator returns entries for all of the creator's data sources, newest
// first. A creator with no data sources gets an empty list, not an error.
func (l *Ledger) ListByCreator(ctx context.Context, creatorID string) ([]storage.AccessLog, error) {
	sources, err := l.store.DataSourcesByCreator(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return []storage.AccessLog{}, nil
	}

	ids := make([]string, len(sources))
	for i, ds := range sources {
		ids[i] = ds.ID
	}
	return l.store.AccessLogsByDataSources(ctx, ids)
}
