package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"supportdesk/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite has one writer, and funneling every
	// statement through one connection makes transactions serialize on
	// commit order without busy-retry loops.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		username    TEXT NOT NULL DEFAULT '',
		first_name  TEXT NOT NULL DEFAULT '',
		language    TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id                 TEXT PRIMARY KEY,
		display_name       TEXT NOT NULL DEFAULT '',
		languages          TEXT NOT NULL DEFAULT '',
		available          INTEGER NOT NULL DEFAULT 1,
		active_request_id  TEXT REFERENCES requests(id),
		created_at         DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users(id),
		language       TEXT NOT NULL,
		initial_query  TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL CHECK (status IN ('open','assigned','closed')),
		agent_id       TEXT REFERENCES agents(id),
		created_at     DATETIME NOT NULL,
		assigned_at    DATETIME,
		closed_at      DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_requests_user_status ON requests(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_active_user
		ON requests(user_id) WHERE status IN ('open','assigned');

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id  TEXT NOT NULL REFERENCES requests(id),
		sender      TEXT NOT NULL CHECK (sender IN ('customer','agent')),
		body        TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(request_id, id);

	CREATE TABLE IF NOT EXISTS broadcasts (
		request_id  TEXT NOT NULL REFERENCES requests(id),
		agent_id    TEXT NOT NULL REFERENCES agents(id),
		created_at  DATETIME NOT NULL,
		PRIMARY KEY (request_id, agent_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, language, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.Language, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, username, first_name, language, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.FirstName, domain.NormalizeLanguage(u.Language), u.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) SetUserLanguage(ctx context.Context, id, language string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET language = ? WHERE id = ?`,
		domain.NormalizeLanguage(language), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	return getAgent(ctx, s.db, id)
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, a domain.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO agents (id, display_name, languages, available, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.DisplayName, joinLanguages(a.Languages), a.Available, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) SetAgentLanguages(ctx context.Context, id string, languages []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET languages = ? WHERE id = ?`,
		joinLanguages(languages), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetAgentAvailability(ctx context.Context, id string, available bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET available = ? WHERE id = ?`,
		available, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) ListAvailableAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, languages, available, active_request_id, created_at
		 FROM agents WHERE available = 1 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, r domain.Request) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = domain.StatusOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, user_id, language, initial_query, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, domain.NormalizeLanguage(r.Language), r.InitialQuery, r.Status, r.CreatedAt,
	)
	// The partial unique index makes check-then-insert races on the
	// same user lose here instead of opening a duplicate request.
	if err != nil && strings.Contains(err.Error(), "idx_requests_active_user") {
		return domain.ErrActiveRequestExists
	}
	return err
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	return getRequest(ctx, s.db, id)
}

func (s *SQLiteStore) ActiveRequestByUser(ctx context.Context, userID string) (*domain.Request, error) {
	row := s.db.QueryRowContext(ctx,
		requestColumns+` FROM requests
		 WHERE user_id = ? AND status IN ('open','assigned')
		 ORDER BY created_at LIMIT 1`, userID,
	)
	return scanRequest(row)
}

func (s *SQLiteStore) ListOpenRequests(ctx context.Context) ([]domain.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		requestColumns+` FROM requests WHERE status = 'open' ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []domain.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (request_id, sender, body, created_at) VALUES (?, ?, ?, ?)`,
		m.RequestID, m.Sender, m.Body, m.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) MessagesByRequest(ctx context.Context, requestID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, sender, body, created_at
		 FROM messages WHERE request_id = ? ORDER BY id LIMIT ?`,
		requestID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.RequestID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) RecordBroadcast(ctx context.Context, requestID string, agentIDs []string) error {
	now := time.Now()
	for _, id := range agentIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO broadcasts (request_id, agent_id, created_at) VALUES (?, ?, ?)`,
			requestID, id, now,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) BroadcastRecipients(ctx context.Context, requestID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM broadcasts WHERE request_id = ? ORDER BY created_at, agent_id`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- shared scanning helpers, used by both the store and transactions ---

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scannable interface {
	Scan(dest ...any) error
}

const requestColumns = `SELECT id, user_id, language, initial_query, status, agent_id, created_at, assigned_at, closed_at`

func getRequest(ctx context.Context, q rowQuerier, id string) (*domain.Request, error) {
	row := q.QueryRowContext(ctx, requestColumns+` FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

func scanRequest(row scannable) (*domain.Request, error) {
	var r domain.Request
	var agentID sql.NullString
	var assignedAt, closedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.Language, &r.InitialQuery, &r.Status,
		&agentID, &r.CreatedAt, &assignedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.AgentID = agentID.String
	if assignedAt.Valid {
		r.AssignedAt = &assignedAt.Time
	}
	if closedAt.Valid {
		r.ClosedAt = &closedAt.Time
	}
	return &r, nil
}

func getAgent(ctx context.Context, q rowQuerier, id string) (*domain.Agent, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, display_name, languages, available, active_request_id, created_at
		 FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

func scanAgent(row scannable) (*domain.Agent, error) {
	var a domain.Agent
	var languages string
	var activeRequest sql.NullString
	err := row.Scan(&a.ID, &a.DisplayName, &languages, &a.Available, &activeRequest, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Languages = splitLanguages(languages)
	a.ActiveRequestID = activeRequest.String
	return &a, nil
}

func joinLanguages(codes []string) string {
	return strings.Join(domain.NormalizeLanguages(codes), ",")
}

func splitLanguages(s string) []string {
	if s == "" {
		return nil
	}
	return domain.NormalizeLanguages(strings.Split(s, ","))
}

// requireRow fails when an UPDATE matched nothing, surfacing stale ids
// as domain.ErrNotFound instead of silently succeeding.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
