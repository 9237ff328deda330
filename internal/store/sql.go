// Package store provides RecordStore implementations: a database/sql
// backed store (SQLite or PostgreSQL) and an in-memory store for tests
// and dependency-free development.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"advsandbox/internal/apperrors"
	"advsandbox/internal/attack"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS attack_results (
	id TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	attack_method_id TEXT NOT NULL,
	status TEXT NOT NULL,
	current_stage TEXT NOT NULL,
	progress_percentage INTEGER NOT NULL,
	original_input TEXT NOT NULL,
	original_prediction TEXT NOT NULL,
	original_confidence REAL NOT NULL,
	adversarial_example TEXT NOT NULL,
	adversarial_prediction TEXT NOT NULL,
	adversarial_confidence REAL NOT NULL,
	attack_success BOOLEAN NOT NULL,
	perturbation_details TEXT,
	metrics TEXT,
	error TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_attack_results_model_id ON attack_results (model_id);
CREATE INDEX IF NOT EXISTS idx_attack_results_status ON attack_results (status);
`

const columns = `id, model_id, attack_method_id, status, current_stage, progress_percentage,
	original_input, original_prediction, original_confidence,
	adversarial_example, adversarial_prediction, adversarial_confidence,
	attack_success, perturbation_details, metrics, error,
	created_at, updated_at, completed_at`

// SQLStore persists attack records via database/sql.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// OpenSQL opens a record store. Supported drivers: "sqlite3" (dsn is a
// file path) and "postgres" (dsn is a connection URL).
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3":
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000"
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, postgres: driver == "postgres"}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate attack_results: %w", err)
	}
	return s, nil
}

// rebind converts ? placeholders to $N for the postgres driver.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Create(ctx context.Context, rec *attack.Record) error {
	details, metrics, err := marshalMaps(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO attack_results (`+columns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		rec.ID, rec.ModelID, rec.AttackMethodID, rec.Status, rec.Stage, rec.Progress,
		rec.OriginalInput, rec.OriginalPrediction, rec.OriginalConfidence,
		rec.AdversarialExample, rec.AdversarialPrediction, rec.AdversarialConfidence,
		rec.AttackSuccess, details, metrics, rec.Error,
		rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt,
	)
	if err != nil {
		return apperrors.Internal("store.create", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*attack.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+columns+` FROM attack_results WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("attack", id)
	}
	if err != nil {
		return nil, apperrors.Internal("store.get", err)
	}
	return rec, nil
}

func (s *SQLStore) Update(ctx context.Context, rec *attack.Record) error {
	details, metrics, err := marshalMaps(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE attack_results SET
		model_id=?, attack_method_id=?, status=?, current_stage=?, progress_percentage=?,
		original_input=?, original_prediction=?, original_confidence=?,
		adversarial_example=?, adversarial_prediction=?, adversarial_confidence=?,
		attack_success=?, perturbation_details=?, metrics=?, error=?,
		created_at=?, updated_at=?, completed_at=?
		WHERE id=?`),
		rec.ModelID, rec.AttackMethodID, rec.Status, rec.Stage, rec.Progress,
		rec.OriginalInput, rec.OriginalPrediction, rec.OriginalConfidence,
		rec.AdversarialExample, rec.AdversarialPrediction, rec.AdversarialConfidence,
		rec.AttackSuccess, details, metrics, rec.Error,
		rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt,
		rec.ID,
	)
	if err != nil {
		return apperrors.Internal("store.update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("store.update", err)
	}
	if affected == 0 {
		return apperrors.NotFound("attack", rec.ID)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, q attack.ListQuery) (*attack.ListResult, error) {
	where, args := buildFilter(q)

	var total int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM attack_results`+where), args...).Scan(&total)
	if err != nil {
		return nil, apperrors.Internal("store.list", err)
	}

	dir := "DESC"
	if q.SortOrder == "asc" {
		dir = "ASC"
	}
	sortBy := q.SortBy
	if !attack.SortFields[sortBy] {
		sortBy = "created_at"
	}
	order := fmt.Sprintf(" ORDER BY %s %s, id ASC", sortBy, dir)

	pageArgs := append(args, q.Limit, q.Skip)
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+columns+` FROM attack_results`+where+order+` LIMIT ? OFFSET ?`), pageArgs...)
	if err != nil {
		return nil, apperrors.Internal("store.list", err)
	}
	defer rows.Close()

	records := make([]*attack.Record, 0, q.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Internal("store.list", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("store.list", err)
	}

	return &attack.ListResult{Total: total, Limit: q.Limit, Offset: q.Skip, Records: records}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Internal("store.ping", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func buildFilter(q attack.ListQuery) (string, []any) {
	var clauses []string
	var args []any
	if q.ModelID != "" {
		clauses = append(clauses, "model_id = ?")
		args = append(args, q.ModelID)
	}
	if q.AttackMethodID != "" {
		clauses = append(clauses, "attack_method_id = ?")
		args = append(args, q.AttackMethodID)
	}
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, q.Status)
	}
	if q.AttackSuccess != nil {
		clauses = append(clauses, "attack_success = ?")
		args = append(args, *q.AttackSuccess)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*attack.Record, error) {
	rec := &attack.Record{}
	var details, metrics, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.ModelID, &rec.AttackMethodID, &rec.Status, &rec.Stage, &rec.Progress,
		&rec.OriginalInput, &rec.OriginalPrediction, &rec.OriginalConfidence,
		&rec.AdversarialExample, &rec.AdversarialPrediction, &rec.AdversarialConfidence,
		&rec.AttackSuccess, &details, &metrics, &errMsg,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &rec.PerturbationDetails); err != nil {
			return nil, fmt.Errorf("decode perturbation_details: %w", err)
		}
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
	}
	rec.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

func marshalMaps(rec *attack.Record) (details, metrics string, err error) {
	if rec.PerturbationDetails != nil {
		b, err := json.Marshal(rec.PerturbationDetails)
		if err != nil {
			return "", "", apperrors.Internal("store.encode", err)
		}
		details = string(b)
	}
	if rec.Metrics != nil {
		b, err := json.Marshal(rec.Metrics)
		if err != nil {
			return "", "", apperrors.Internal("store.encode", err)
		}
		metrics = string(b)
	}
	return details, metrics, nil
}
