package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type (
	// VectorRecord is the database structure for one memory fact inside a
	// (agent, grain) partition. Embeddings live in the vec0 virtual table.
	VectorRecord struct {
		ID        string    `gorm:"primaryKey"`
		Content   string    `gorm:"not null"`
		Timestamp time.Time `gorm:"index;not null"`
		Metadata  datatypes.JSONType[map[string]any]
	}

	// ConnCache holds one open connection per partition path. Connections are
	// opened lazily and never evicted; the number of (agent, grain) pairs one
	// process serves is small. Reset exists for test isolation.
	ConnCache struct {
		mu    sync.Mutex
		conns map[string]*gorm.DB
	}

	TimeRange struct {
		Start time.Time
		End   time.Time
	}

	QueryOptions struct {
		// Vector triggers approximate-nearest-neighbor ranking when set;
		// otherwise the partition is scanned.
		Vector []float32
		// Filter is a trusted, internally built SQL predicate over the record
		// columns (e.g. json_extract on metadata). Never sourced from
		// untrusted callers.
		Filter string
		Limit  int
		// Temporal restricts results to [Start, End]. Applied in SQL for
		// date-partitioned grains and as an in-memory post-filter for the
		// unpartitioned working grain.
		Temporal *TimeRange
	}

	QueryRow struct {
		Record FactRecord
		// Distance is set only when the query ranked by vector similarity.
		Distance *float64
	}

	// VectorStore reads and writes the per-(agent, grain) vector partitions.
	VectorStore struct {
		cache   *ConnCache
		dataDir string
		vecDim  int

		defaultLimit int
		maxLimit     int

		logger *slog.Logger
	}
)

func (VectorRecord) TableName() string {
	return "memory_facts"
}

func NewConnCache() *ConnCache {
	// Registers the sqlite-vec extension for every connection opened later.
	sqlite_vec.Auto()

	return &ConnCache{conns: make(map[string]*gorm.DB)}
}

func (c *ConnCache) get(path string, vecDim int) (*gorm.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.conns[path]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create partition directory for %s", path)
	}

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on", path)),
		&gorm.Config{},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vector partition at %s", path)
	}

	if err := db.AutoMigrate(&VectorRecord{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate vector partition at %s", path)
	}

	var sqliteVersion, vecVersion string
	if err := db.Raw("SELECT sqlite_version(), vec_version()").Row().Scan(&sqliteVersion, &vecVersion); err != nil {
		return nil, errors.Wrapf(err, "sqlite-vec extension not properly loaded")
	}

	createTableSQL := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
			record_id TEXT PRIMARY KEY,
			embedding float[%d]
		);
	`, vecDim)
	if err := db.Exec(createTableSQL).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to create memory_vectors table")
	}

	c.conns[path] = db
	return db, nil
}

func (c *ConnCache) evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.conns[path]; ok {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(c.conns, path)
	}
}

// Reset closes every cached connection. Intended for tests.
func (c *ConnCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path, db := range c.conns {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(c.conns, path)
	}
}

func NewVectorStore(conf *config.MemoryConfig, modelConf *config.ModelConfig, cache *ConnCache, logger *slog.Logger) *VectorStore {
	return &VectorStore{
		cache:        cache,
		dataDir:      conf.DataDir,
		vecDim:       modelConf.EmbeddingDimension,
		defaultLimit: conf.DefaultQueryLimit,
		maxLimit:     conf.MaxQueryLimit,
		logger:       logger,
	}
}

// MaxQueryLimit is the hard cap applied to every query.
func (s *VectorStore) MaxQueryLimit() int {
	return s.maxLimit
}

func (s *VectorStore) partitionPath(agentID string, grain TemporalGrain) string {
	return filepath.Join(s.dataDir, "vector", agentID, string(grain)+".db")
}

func (s *VectorStore) partitionExists(agentID string, grain TemporalGrain) bool {
	_, err := os.Stat(s.partitionPath(agentID, grain))
	return err == nil
}

func (s *VectorStore) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Query runs a similarity ranking (when a vector is supplied) or a plain scan
// against one partition. A partition that was never written is a normal state:
// it yields an empty result, not an error.
func (s *VectorStore) Query(ctx context.Context, agentID string, grain TemporalGrain, opts QueryOptions) ([]QueryRow, error) {
	if agentID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "agentId must not be empty")
	}
	if !grain.Valid() {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown temporal grain %q", grain)
	}

	if !s.partitionExists(agentID, grain) {
		return []QueryRow{}, nil
	}

	db, err := s.cache.get(s.partitionPath(agentID, grain), s.vecDim)
	if err != nil {
		return nil, err
	}

	limit := s.clampLimit(opts.Limit)

	if len(opts.Vector) > 0 {
		return s.queryByVector(ctx, db, grain, opts, limit)
	}
	return s.queryByScan(ctx, db, grain, opts, limit)
}

func (s *VectorStore) queryByVector(ctx context.Context, db *gorm.DB, grain TemporalGrain, opts QueryOptions, limit int) ([]QueryRow, error) {
	serializedQuery, err := sqlite_vec.SerializeFloat32(opts.Vector)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize query embedding")
	}

	// Over-fetch candidates so post-ranking filters still fill the limit.
	rows, err := db.WithContext(ctx).Raw(`
		SELECT record_id, distance
		FROM memory_vectors
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, serializedQuery, limit*2).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to execute vector search")
	}
	defer rows.Close()

	distanceByID := make(map[string]float64)
	var ids []string
	for rows.Next() {
		var (
			id       string
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, errors.Wrapf(err, "failed to scan vector search row")
		}
		ids = append(ids, id)
		distanceByID[id] = distance
	}
	if len(ids) == 0 {
		return []QueryRow{}, nil
	}

	q := db.WithContext(ctx).Where("id IN ?", ids)
	if grain.DatePartitioned() && opts.Temporal != nil {
		q = q.Where("timestamp BETWEEN ? AND ?", opts.Temporal.Start, opts.Temporal.End)
	}
	if opts.Filter != "" {
		q = q.Where(opts.Filter)
	}

	var records []VectorRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to fetch memory records")
	}

	results := make([]QueryRow, 0, len(records))
	for _, record := range records {
		distance := distanceByID[record.ID]
		results = append(results, QueryRow{
			Record:   record.toFact(),
			Distance: &distance,
		})
	}

	if !grain.DatePartitioned() && opts.Temporal != nil {
		results = filterByTimestamp(results, opts.Temporal)
	}

	sort.Slice(results, func(i, j int) bool {
		return *results[i].Distance < *results[j].Distance
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *VectorStore) queryByScan(ctx context.Context, db *gorm.DB, grain TemporalGrain, opts QueryOptions, limit int) ([]QueryRow, error) {
	q := db.WithContext(ctx).Model(&VectorRecord{})
	if grain.DatePartitioned() {
		if opts.Temporal != nil {
			q = q.Where("timestamp BETWEEN ? AND ?", opts.Temporal.Start, opts.Temporal.End)
		}
		q = q.Order("timestamp DESC")
	}
	if opts.Filter != "" {
		q = q.Where(opts.Filter)
	}
	q = q.Limit(limit)

	var records []VectorRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to scan memory records")
	}

	results := make([]QueryRow, 0, len(records))
	for _, record := range records {
		results = append(results, QueryRow{Record: record.toFact()})
	}

	if !grain.DatePartitioned() && opts.Temporal != nil {
		results = filterByTimestamp(results, opts.Temporal)
	}
	return results, nil
}

// GetRecordByID performs a point lookup. A missing record (or a partition
// that was never written) returns (nil, nil).
func (s *VectorStore) GetRecordByID(ctx context.Context, agentID string, grain TemporalGrain, id string) (*FactRecord, error) {
	if !s.partitionExists(agentID, grain) {
		return nil, nil
	}

	db, err := s.cache.get(s.partitionPath(agentID, grain), s.vecDim)
	if err != nil {
		return nil, err
	}

	var record VectorRecord
	if r := db.WithContext(ctx).Find(&record, "id = ?", id); r.Error != nil {
		return nil, errors.Wrapf(r.Error, "failed to get record %s", id)
	} else if r.RowsAffected == 0 {
		return nil, nil
	}

	fact := record.toFact()
	return &fact, nil
}

// UpsertRecords creates or replaces records and their embeddings in one
// transaction. Called by the write-operation consumer, never by the search
// path.
func (s *VectorStore) UpsertRecords(ctx context.Context, agentID string, grain TemporalGrain, records []FactRecord) error {
	if len(records) == 0 {
		return nil
	}

	db, err := s.cache.get(s.partitionPath(agentID, grain), s.vecDim)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fact := range records {
			record := VectorRecord{
				ID:        fact.ID,
				Content:   fact.Content,
				Timestamp: fact.Timestamp,
				Metadata:  datatypes.NewJSONType(fact.Metadata),
			}
			if err := tx.Save(&record).Error; err != nil {
				return errors.Wrapf(err, "failed to save record %s", fact.ID)
			}

			if len(fact.Embedding) == 0 {
				continue
			}

			if err := tx.Exec("DELETE FROM memory_vectors WHERE record_id = ?", fact.ID).Error; err != nil {
				return errors.Wrapf(err, "failed to delete existing vector for %s", fact.ID)
			}

			serialized, err := sqlite_vec.SerializeFloat32(fact.Embedding)
			if err != nil {
				return errors.Wrapf(err, "failed to serialize embedding for %s", fact.ID)
			}
			if err := tx.Exec("INSERT INTO memory_vectors (record_id, embedding) VALUES (?, ?)", fact.ID, serialized).Error; err != nil {
				return errors.Wrapf(err, "failed to insert vector for %s", fact.ID)
			}
		}
		return nil
	})
}

// DeleteRecords removes records and their embeddings by id.
func (s *VectorStore) DeleteRecords(ctx context.Context, agentID string, grain TemporalGrain, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if !s.partitionExists(agentID, grain) {
		return nil
	}

	db, err := s.cache.get(s.partitionPath(agentID, grain), s.vecDim)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM memory_vectors WHERE record_id IN ?", ids).Error; err != nil {
			return errors.Wrapf(err, "failed to delete vectors")
		}
		if err := tx.Delete(&VectorRecord{}, "id IN ?", ids).Error; err != nil {
			return errors.Wrapf(err, "failed to delete records")
		}
		return nil
	})
}

// PurgePartition drops an entire (agent, grain) partition.
func (s *VectorStore) PurgePartition(ctx context.Context, agentID string, grain TemporalGrain) error {
	path := s.partitionPath(agentID, grain)
	s.cache.evict(path)

	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove partition file %s", f)
		}
	}

	s.logger.Info("purged vector partition",
		slog.String("agentId", agentID),
		slog.String("grain", string(grain)),
	)
	return nil
}

func (r VectorRecord) toFact() FactRecord {
	return FactRecord{
		ID:        r.ID,
		Content:   r.Content,
		Timestamp: r.Timestamp,
		Metadata:  r.Metadata.Data(),
	}
}

func filterByTimestamp(rows []QueryRow, tr *TimeRange) []QueryRow {
	filtered := rows[:0]
	for _, row := range rows {
		ts := row.Record.Timestamp
		if ts.Before(tr.Start) || ts.After(tr.End) {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered
}
