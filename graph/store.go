package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/internal/sqlval"
	"github.com/habiliai/agentmemory/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type (
	// FactStore is one embedded session over the (workspace, agent) graph.
	// Open restores the snapshot from object storage (or bootstraps an empty
	// graph), mutations run against a private working file, and Save is the
	// only durability mechanism: anything not saved is lost at Close.
	//
	// Sessions are never cached. Every caller must guarantee Close on all
	// exit paths, typically `defer store.Close()` right after Open.
	FactStore struct {
		db        *gorm.DB
		snapshots storage.SnapshotStore
		key       string

		workDir  string
		workFile string
		dirty    bool

		logger *slog.Logger
	}

	// FactPredicate selects facts by exact column match. Zero-value fields
	// are not part of the predicate; an all-empty predicate is a programming
	// error and is rejected before any statement is issued.
	FactPredicate struct {
		ID       string
		SourceID string
		TargetID string
		Label    string
	}
)

const factsSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	label TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_facts_source ON facts(source_id);
CREATE INDEX IF NOT EXISTS idx_facts_target ON facts(target_id);
CREATE INDEX IF NOT EXISTS idx_facts_label ON facts(label);
`

// nodes is the vertex set of the property graph: the distinct union of every
// subject and object. Together with facts (directed, labeled edges) it forms
// the graph that pattern queries traverse.
const nodesView = `
CREATE VIEW IF NOT EXISTS nodes AS
	SELECT DISTINCT source_id AS id FROM facts
	UNION
	SELECT DISTINCT target_id AS id FROM facts;
`

// OpenFactStore starts a session for one (workspace, agent) graph. A missing
// snapshot bootstraps an empty graph; any other storage error propagates.
func OpenFactStore(ctx context.Context, snapshots storage.SnapshotStore, workspaceID, agentID string, logger *slog.Logger) (*FactStore, error) {
	if workspaceID == "" || agentID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "workspaceId and agentId must not be empty")
	}

	workDir, err := os.MkdirTemp("", "agentmemory-graph-")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create graph session directory")
	}

	store := &FactStore{
		snapshots: snapshots,
		key:       storage.SnapshotKey(workspaceID, agentID),
		workDir:   workDir,
		workFile:  filepath.Join(workDir, "facts.db"),
		logger:    logger,
	}

	if err := snapshots.Download(ctx, store.key, store.workFile); err != nil {
		if !errors.Is(err, errors.ErrSnapshotNotFound) {
			_ = os.RemoveAll(workDir)
			return nil, err
		}
		logger.Debug("no graph snapshot found, bootstrapping empty graph", slog.String("key", store.key))
	}

	db, err := gorm.Open(sqlite.Open(store.workFile), &gorm.Config{})
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, errors.Wrapf(err, "failed to open graph session at %s", store.workFile)
	}
	store.db = db

	for _, stmt := range []string{factsSchema, nodesView} {
		if err := db.Exec(stmt).Error; err != nil {
			_ = store.Close()
			return nil, errors.Wrapf(err, "failed to prepare graph schema")
		}
	}

	return store, nil
}

// InsertFacts writes rows with one batched statement. The deterministic id
// makes the insert an idempotent upsert: the same triple replaces itself.
// Every value is formatted through sqlval; nothing is interpolated raw.
func (s *FactStore) InsertFacts(ctx context.Context, rows []GraphFact) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		props, err := json.Marshal(row.Properties)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal properties for fact %s", row.ID)
		}

		cols := make([]string, 0, 5)
		for _, v := range []any{row.ID, row.SourceID, row.TargetID, row.Label, json.RawMessage(props)} {
			lit, err := sqlval.Format(v)
			if err != nil {
				return err
			}
			cols = append(cols, lit)
		}
		values = append(values, "("+strings.Join(cols, ", ")+")")
	}

	stmt := "INSERT OR REPLACE INTO facts (id, source_id, target_id, label, properties) VALUES " + strings.Join(values, ", ")
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return errors.Wrapf(err, "failed to insert %d facts", len(rows))
	}

	s.dirty = true
	return nil
}

// UpdateFacts sets properties on every fact matching the predicate. Both an
// all-empty predicate and an empty set are rejected before any SQL runs.
func (s *FactStore) UpdateFacts(ctx context.Context, where FactPredicate, set map[string]any) error {
	cond, err := where.toSQL()
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return errors.Wrapf(errors.ErrInvalidParams, "update requires at least one column to set")
	}

	assignments := make([]string, 0, len(set))
	for col, v := range set {
		if !validFactColumn(col) {
			return errors.Wrapf(errors.ErrInvalidParams, "unknown facts column %q", col)
		}
		lit, err := sqlval.Format(v)
		if err != nil {
			return err
		}
		assignments = append(assignments, col+" = "+lit)
	}

	stmt := "UPDATE facts SET " + strings.Join(assignments, ", ") + " WHERE " + cond
	if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return errors.Wrapf(err, "failed to update facts")
	}

	s.dirty = true
	return nil
}

// DeleteFacts removes every fact matching the predicate. An all-empty
// predicate is rejected before any SQL runs: accidental full-table deletes
// must be impossible.
func (s *FactStore) DeleteFacts(ctx context.Context, where FactPredicate) error {
	cond, err := where.toSQL()
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Exec("DELETE FROM facts WHERE " + cond).Error; err != nil {
		return errors.Wrapf(err, "failed to delete facts")
	}

	s.dirty = true
	return nil
}

// FindFacts returns every fact matching the predicate.
func (s *FactStore) FindFacts(ctx context.Context, where FactPredicate) ([]GraphFact, error) {
	cond, err := where.toSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.WithContext(ctx).Raw("SELECT id, source_id, target_id, label, properties FROM facts WHERE " + cond).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query facts")
	}
	defer rows.Close()

	return scanFacts(rows)
}

// QueryGraph executes a trusted, internally built pattern query and returns
// generic rows. Not exposed to untrusted callers.
func (s *FactStore) QueryGraph(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute graph query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read result columns")
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrapf(err, "failed to scan graph query row")
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// Save serializes the facts table back to the object-storage snapshot,
// overwriting it. This is the only durability mechanism; there is no
// conditional write, so of two concurrent sessions the later Save wins.
func (s *FactStore) Save(ctx context.Context) error {
	// Flush the WAL so the main file is complete before upload.
	if err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return errors.Wrapf(err, "failed to checkpoint graph session")
	}

	if err := s.snapshots.Upload(ctx, s.key, s.workFile); err != nil {
		return err
	}

	s.dirty = false
	s.logger.Debug("saved graph snapshot", slog.String("key", s.key))
	return nil
}

// Close releases the session and its working files. Unsaved mutations are
// discarded.
func (s *FactStore) Close() error {
	if s.db != nil {
		if s.dirty {
			s.logger.Warn("closing graph session with unsaved mutations", slog.String("key", s.key))
		}
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		s.db = nil
	}
	if s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil {
			return errors.Wrapf(err, "failed to remove graph session directory %s", s.workDir)
		}
		s.workDir = ""
	}
	return nil
}

func (p FactPredicate) toSQL() (string, error) {
	var conds []string
	for _, col := range []struct {
		name  string
		value string
	}{
		{"id", p.ID},
		{"source_id", p.SourceID},
		{"target_id", p.TargetID},
		{"label", p.Label},
	} {
		if col.value == "" {
			continue
		}
		conds = append(conds, col.name+" = "+sqlval.QuoteString(col.value))
	}

	if len(conds) == 0 {
		return "", errors.Wrapf(errors.ErrEmptyPredicate, "fact predicate must constrain at least one column")
	}
	return strings.Join(conds, " AND "), nil
}

func validFactColumn(col string) bool {
	switch col {
	case "source_id", "target_id", "label", "properties":
		return true
	}
	return false
}

func scanFacts(rows *sql.Rows) ([]GraphFact, error) {
	var facts []GraphFact
	for rows.Next() {
		var (
			fact  GraphFact
			props string
		)
		if err := rows.Scan(&fact.ID, &fact.SourceID, &fact.TargetID, &fact.Label, &props); err != nil {
			return nil, errors.Wrapf(err, "failed to scan fact row")
		}
		if err := json.Unmarshal([]byte(props), &fact.Properties); err != nil {
			return nil, errors.Wrapf(err, "failed to decode properties of fact %s", fact.ID)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// quoteStringList renders a sqlval-escaped IN list.
func quoteStringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = sqlval.QuoteString(v)
	}
	return fmt.Sprintf("(%s)", strings.Join(quoted, ", "))
}
