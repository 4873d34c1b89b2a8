package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver registered under "sqlite"
)

// SQLStore implements Store on top of database/sql, the optional
// persistence backend for deployments that outgrow a flat TOML file. Each
// credential kind gets its own table keyed by id, with a state tag and
// reason/usage JSON blobs broken out as columns and the full credential
// kept as an opaque JSON payload column alongside them.
//
// Only the sqlite driver is wired (modernc.org/sqlite, pure Go, no cgo).
// Nothing in this layer is dialect-specific (plain placeholders, no stored
// procedures), so a deployment that needs a server-based SQL engine can
// register another database/sql driver and reuse SQLStore unchanged — see
// DESIGN.md.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the sqlite database at path and runs the
// schema migration.
func NewSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("credential sqlstore: open: %w", err)
	}
	s := &SQLStore{db: db}
	if err = s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var tablesByKind = map[Kind]string{
	KindCookie: "cookies",
	KindKey: "keys",
	KindOAuth: "oauth",
	KindServiceAccount: "service_accounts",
}

// migrate creates the credential tables if absent. Schema migrations are
// applied automatically at startup
func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cookies (
			id TEXT PRIMARY KEY,
			state_tag TEXT NOT NULL,
			reason_json TEXT,
			usage_json TEXT,
			payload_json TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS keys (
			id TEXT PRIMARY KEY,
			state_tag TEXT NOT NULL,
			reason_json TEXT,
			usage_json TEXT,
			payload_json TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth (
			id TEXT PRIMARY KEY,
			state_tag TEXT NOT NULL,
			reason_json TEXT,
			usage_json TEXT,
			payload_json TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS service_accounts (
			id TEXT PRIMARY KEY,
			state_tag TEXT NOT NULL,
			reason_json TEXT,
			usage_json TEXT,
			payload_json TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wasted (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			reason_json TEXT,
			payload_json TEXT NOT NULL,
			wasted_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("credential sqlstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	for kind, table := range tablesByKind {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT payload_json FROM %s", table)) //nolint:gosec // table name is from a fixed internal map, not user input
		if err != nil {
			return nil, fmt.Errorf("credential sqlstore: load %s: %w", table, err)
		}
		list, err := scanCredentials(rows)
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindCookie:
			snap.Cookies = list
		case KindKey:
			snap.Keys = list
		case KindOAuth:
			snap.OAuth = list
		case KindServiceAccount:
			snap.ServiceAccounts = list
		}
	}
	wastedRows, err := s.db.QueryContext(ctx, "SELECT payload_json, reason_json, wasted_at FROM wasted")
	if err != nil {
		return nil, fmt.Errorf("credential sqlstore: load wasted: %w", err)
	}
	defer wastedRows.Close()
	for wastedRows.Next() {
		var payload, reason string
		var wastedAt time.Time
		if err = wastedRows.Scan(&payload, &reason, &wastedAt); err != nil {
			return nil, err
		}
		var cred Credential
		if err = json.Unmarshal([]byte(payload), &cred); err != nil {
			return nil, err
		}
		snap.Wasted = append(snap.Wasted, &WastedEntry{Credential: cred, Reason: InvalidReason(reason), WastedAt: wastedAt})
	}
	return snap, wastedRows.Err()
}

func scanCredentials(rows *sql.Rows) ([]*Credential, error) {
	defer rows.Close()
	var out []*Credential
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var cred Credential
		if err := json.Unmarshal([]byte(payload), &cred); err != nil {
			return nil, err
		}
		out = append(out, &cred)
	}
	return out, rows.Err()
}

func (s *SQLStore) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for kind, table := range tablesByKind {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil { //nolint:gosec
			return err
		}
		for _, cred := range snap.ByKind(kind) {
			if err = upsertCredentialTx(ctx, tx, table, cred); err != nil {
				return err
			}
		}
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM wasted"); err != nil {
		return err
	}
	for _, w := range snap.Wasted {
		payload, err := json.Marshal(w.Credential)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO wasted (id, kind, reason_json, payload_json, wasted_at) VALUES (?, ?, ?, ?, ?)",
			w.Credential.ID, w.Credential.Kind, string(w.Reason), string(payload), w.WastedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertCredentialTx(ctx context.Context, tx *sql.Tx, table string, cred *Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	usageJSON, err := json.Marshal(cred.Usage)
	if err != nil {
		return err
	}
	reasonJSON, err := json.Marshal(cred.InvalidReason)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, state_tag, reason_json, usage_json, payload_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET state_tag=excluded.state_tag, reason_json=excluded.reason_json,
			usage_json=excluded.usage_json, payload_json=excluded.payload_json, updated_at=excluded.updated_at`, table), //nolint:gosec
		cred.ID, string(cred.State), string(reasonJSON), string(usageJSON), string(payload), time.Now().UTC())
	return err
}

func (s *SQLStore) AddCredential(ctx context.Context, kind Kind, cred *Credential) error {
	table, ok := tablesByKind[kind]
	if !ok {
		return fmt.Errorf("credential sqlstore: unknown kind %q", kind)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err = upsertCredentialTx(ctx, tx, table, cred); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) RemoveCredential(ctx context.Context, kind Kind, id string) error {
	table, ok := tablesByKind[kind]
	if !ok {
		return fmt.Errorf("credential sqlstore: unknown kind %q", kind)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id) //nolint:gosec
	return err
}

func (s *SQLStore) MoveToWasted(ctx context.Context, kind Kind, id string, reason InvalidReason) error {
	table, ok := tablesByKind[kind]
	if !ok {
		return fmt.Errorf("credential sqlstore: unknown kind %q", kind)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT payload_json FROM %s WHERE id = ?", table), id) //nolint:gosec
	var payload string
	if err = row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil { //nolint:gosec
		return err
	}
	if _, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO wasted (id, kind, reason_json, payload_json, wasted_at) VALUES (?, ?, ?, ?, ?)",
		id, kind, string(reason), payload, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateUsage(ctx context.Context, id string, usage UsageCounters) error {
	var payload string
	if err := s.db.QueryRowContext(ctx, "SELECT payload_json FROM cookies WHERE id = ?", id).Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	var cred Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return err
	}
	cred.Usage = usage
	cred.UpdatedAt = time.Now().UTC()
	updated, err := json.Marshal(&cred)
	if err != nil {
		return err
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "UPDATE cookies SET usage_json = ?, payload_json = ?, updated_at = ? WHERE id = ?", string(usageJSON), string(updated), cred.UpdatedAt, id)
	return err
}

func (s *SQLStore) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := s.db.PingContext(ctx)
	return HealthStatus{Mode: "sql", Latency: time.Since(start), LastWrite: time.Now(), Err: err}
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
