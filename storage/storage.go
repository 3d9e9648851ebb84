// Package storage is the relational layer for marketplace entities: creators,
// agents, data sources and access log rows. It is plain SQL over an embedded
// sqlite database; business rules live in the packages above it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/datagate-io/datagate"
)

// Creator owns data sources and receives payment for access to them.
type Creator struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Agent is a paying consumer. APIKey is nil until one is generated.
type Agent struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	Name     string  `json:"name"`
	APIKey   *string `json:"apiKey"`
	WalletID *string `json:"walletId"`
}

// DataSource is a priced resource registered by a creator.
type DataSource struct {
	ID              string    `json:"id"`
	CreatorID       string    `json:"creatorId"`
	URL             string    `json:"url"`
	PricePerRequest string    `json:"pricePerRequest"`
	RateLimit       *int64    `json:"rateLimit"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AccessLog is one audit row for a gated access attempt. Rows are append-only.
type AccessLog struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentId"`
	DataSourceID string    `json:"dataSourceId"`
	Path         *string   `json:"path"`
	Status       string    `json:"status"`
	Amount       *string   `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
}

const schema = `
CREATE TABLE IF NOT EXISTS creators (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name    TEXT NOT NULL,
	email   TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS agents (
	id        TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL,
	name      TEXT NOT NULL,
	api_key   TEXT,
	wallet_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_agents_api_key ON agents (api_key);

CREATE TABLE IF NOT EXISTS data_sources (
	id                TEXT NOT NULL PRIMARY KEY,
	creator_id        TEXT NOT NULL,
	url               TEXT NOT NULL,
	price_per_request TEXT NOT NULL,
	rate_limit        INTEGER,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_data_sources_creator ON data_sources (creator_id);

CREATE TABLE IF NOT EXISTS access_logs (
	id             TEXT NOT NULL PRIMARY KEY,
	agent_id       TEXT NOT NULL,
	data_source_id TEXT NOT NULL,
	path           TEXT,
	status         TEXT NOT NULL,
	amount         TEXT,
	timestamp      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_access_logs_agent ON access_logs (agent_id);
CREATE INDEX IF NOT EXISTS idx_access_logs_data_source ON access_logs (data_source_id);
`

// Store is the sqlite-backed storage layer. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at dsn. Use ":memory:" for
// an ephemeral store in tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCreator inserts a creator profile.
func (s *Store) CreateCreator(ctx context.Context, userID, name, email string) (*Creator, error) {
	creator := &Creator{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Email:  email,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO creators (id, user_id, name, email) VALUES (?, ?, ?, ?)`,
		creator.ID, creator.UserID, creator.Name, creator.Email)
	if err != nil {
		return nil, fmt.Errorf("insert creator: %w", err)
	}
	return creator, nil
}

// Creator fetches a creator by id. Returns datagate.ErrNotFound when absent.
func (s *Store) Creator(ctx context.Context, id string) (*Creator, error) {
	var c Creator
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, email FROM creators WHERE id = ?`, id).
		Scan(&c.ID, &c.UserID, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: creator %s", datagate.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select creator: %w", err)
	}
	return &c, nil
}

// CreatorByUserID fetches the creator profile belonging to a user.
func (s *Store) CreatorByUserID(ctx context.Context, userID string) (*Creator, error) {
	var c Creator
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, email FROM creators WHERE user_id = ?`, userID).
		Scan(&c.ID, &c.UserID, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: creator for user %s", datagate.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("select creator: %w", err)
	}
	return &c, nil
}

// CreateAgent inserts an agent profile with no API key.
func (s *Store) CreateAgent(ctx context.Context, userID, name string) (*Agent, error) {
	agent := &Agent{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, user_id, name, api_key, wallet_id) VALUES (?, ?, ?, NULL, NULL)`,
		agent.ID, agent.UserID, agent.Name)
	if err != nil {
		return nil, fmt.Errorf("insert agent: %w", err)
	}
	return agent, nil
}

// Agent fetches an agent by id.
func (s *Store) Agent(ctx context.Context, id string) (*Agent, error) {
	return s.agentWhere(ctx, "id = ?", id)
}

// AgentByAPIKey fetches an agent by its API key.
func (s *Store) AgentByAPIKey(ctx context.Context, apiKey string) (*Agent, error) {
	return s.agentWhere(ctx, "api_key = ?", apiKey)
}

func (s *Store) agentWhere(ctx context.Context, where string, arg any) (*Agent, error) {
	var a Agent
	var apiKey, walletID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, api_key, wallet_id FROM agents WHERE `+where, arg).
		Scan(&a.ID, &a.UserID, &a.Name, &apiKey, &walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent", datagate.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select agent: %w", err)
	}
	if apiKey.Valid {
		a.APIKey = &apiKey.String
	}
	if walletID.Valid {
		a.WalletID = &walletID.String
	}
	return &a, nil
}

// UpdateAgentAPIKey sets a freshly generated API key on an agent.
func (s *Store) UpdateAgentAPIKey(ctx context.Context, id, apiKey string) (*Agent, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET api_key = ? WHERE id = ?`, apiKey, id)
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: agent %s", datagate.ErrNotFound, id)
	}
	return s.Agent(ctx, id)
}

// CreateDataSource registers a priced resource for a creator.
func (s *Store) CreateDataSource(ctx context.Context, creatorID, url, pricePerRequest string, rateLimit *int64) (*DataSource, error) {
	ds := &DataSource{
		ID:              uuid.NewString(),
		CreatorID:       creatorID,
		URL:             url,
		PricePerRequest: pricePerRequest,
		RateLimit:       rateLimit,
		CreatedAt:       time.Now().UTC(),
	}
	var limit sql.NullInt64
	if rateLimit != nil {
		limit = sql.NullInt64{Int64: *rateLimit, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data_sources (id, creator_id, url, price_per_request, rate_limit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.CreatorID, ds.URL, ds.PricePerRequest, limit, ds.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert data source: %w", err)
	}
	return ds, nil
}

// DataSource fetches a data source by id.
func (s *Store) DataSource(ctx context.Context, id string) (*DataSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, creator_id, url, price_per_request, rate_limit, created_at
		 FROM data_sources WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("select data source: %w", err)
	}
	defer rows.Close()

	sources, err := scanDataSources(rows)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: data source %s", datagate.ErrNotFound, id)
	}
	return &sources[0], nil
}

// DataSourcesByCreator lists a creator's data sources, newest first.
func (s *Store) DataSourcesByCreator(ctx context.Context, creatorID string) ([]DataSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, creator_id, url, price_per_request, rate_limit, created_at
		 FROM data_sources WHERE creator_id = ? ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("select data sources: %w", err)
	}
	defer rows.Close()
	return scanDataSources(rows)
}

func scanDataSources(rows *sql.Rows) ([]DataSource, error) {
	sources := []DataSource{}
	for rows.Next() {
		var ds DataSource
		var limit sql.NullInt64
		var createdAt string
		if err := rows.Scan(&ds.ID, &ds.CreatorID, &ds.URL, &ds.PricePerRequest, &limit, &createdAt); err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		if limit.Valid {
			ds.RateLimit = &limit.Int64
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		ds.CreatedAt = ts
		sources = append(sources, ds)
	}
	return sources, rows.Err()
}

// CreateAccessLog appends one audit row. The timestamp is assigned here.
func (s *Store) CreateAccessLog(ctx context.Context, log AccessLog) (*AccessLog, error) {
	log.ID = uuid.NewString()
	log.Timestamp = time.Now().UTC()

	var path, amount sql.NullString
	if log.Path != nil {
		path = sql.NullString{String: *log.Path, Valid: true}
	}
	if log.Amount != nil {
		amount = sql.NullString{String: *log.Amount, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_logs (id, agent_id, data_source_id, path, status, amount, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.AgentID, log.DataSourceID, path, log.Status, amount,
		log.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert access log: %w", err)
	}
	return &log, nil
}

// AccessLogsByAgent lists an agent's audit rows, newest first.
func (s *Store) AccessLogsByAgent(ctx context.Context, agentID string) ([]AccessLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, data_source_id, path, status, amount, timestamp
		 FROM access_logs WHERE agent_id = ? ORDER BY timestamp DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("select access logs: %w", err)
	}
	defer rows.Close()
	return scanAccessLogs(rows)
}

// AccessLogsByDataSources lists audit rows for any of the given data source
// ids, newest first. An empty id set yields an empty list.
func (s *Store) AccessLogsByDataSources(ctx context.Context, dataSourceIDs []string) ([]AccessLog, error) {
	if len(dataSourceIDs) == 0 {
		return []AccessLog{}, nil
	}

	query := `SELECT id, agent_id, data_source_id, path, status, amount, timestamp
		 FROM access_logs WHERE data_source_id IN (?` // first placeholder
	args := []any{dataSourceIDs[0]}
	for _, id := range dataSourceIDs[1:] {
		query += ", ?"
		args = append(args, id)
	}
	query += `) ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select access logs: %w", err)
	}
	defer rows.Close()
	return scanAccessLogs(rows)
}

func scanAccessLogs(rows *sql.Rows) ([]AccessLog, error) {
	logs := []AccessLog{}
	for rows.Next() {
		var log AccessLog
		var path, amount sql.NullString
		var ts string
		if err := rows.Scan(&log.ID, &log.AgentID, &log.DataSourceID, &path, &log.Status, &amount, &ts); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		if path.Valid {
			log.Path = &path.String
		}
		if amount.Valid {
			log.Amount = &amount.String
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		log.Timestamp = parsed
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
