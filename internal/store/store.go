// Package store is the durable persistence layer (C1): three tables —
// cache, success_tracker, archive_cookies — backed by a pure-Go SQLite
// file (modernc.org/sqlite), opened with WAL journaling and
// synchronous=NORMAL per spec.md §4.1/§6. DSN construction follows
// ManuGH-xg2g's internal/persistence/sqlite/config.go pattern: every
// mandatory PRAGMA lives in the DSN so it applies to every pooled
// connection, not just the first.
//
// Writes are batched: callers enqueue mutations and a single background
// flusher commits them as one transaction on a short timer, mirroring the
// spec's "Tracker and Cache both queue mutations and flush them as a
// single transaction" requirement (§4.1) and the teacher's settings.go
// in-memory-then-persist idiom.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/trailres/resolver/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	imdb_id     TEXT PRIMARY KEY,
	preview_url TEXT NOT NULL,
	track_id    TEXT,
	country     TEXT,
	youtube_key TEXT,
	source_type TEXT NOT NULL,
	source      TEXT NOT NULL,
	timestamp   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS success_tracker (
	stat_type      TEXT NOT NULL,
	identifier     TEXT NOT NULL,
	success_count  INTEGER NOT NULL DEFAULT 0,
	total_count    INTEGER NOT NULL DEFAULT 0,
	sum_quality    REAL NOT NULL DEFAULT 0,
	quality_samples INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (stat_type, identifier)
);

CREATE TABLE IF NOT EXISTS archive_cookies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cookies    TEXT NOT NULL,
	email      TEXT,
	created_at INTEGER NOT NULL,
	last_used  INTEGER,
	is_valid   INTEGER NOT NULL DEFAULT 1,
	use_count  INTEGER NOT NULL DEFAULT 0
);
`

// mutation is one queued write. The flusher applies a batch of these inside
// a single transaction.
type mutation struct {
	exec string
	args []any
}

// Store is the persistence handle. Its Load* queries hydrate the cache's
// and tracker's in-memory state at startup; writes flow through the queue.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu      sync.Mutex
	pending []mutation

	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// Open creates/migrates the SQLite file at dbPath and starts the batched
// flusher. Call Close to stop the flusher and close the handle.
func Open(dbPath string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=mmap_size(268435456)&_pragma=cache_size(-65536)",
		dbPath,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; WAL readers still concurrent via the driver
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{
		db:            db,
		log:           log,
		flushInterval: 150 * time.Millisecond,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the flusher (flushing anything pending) and closes the DB.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.doneCh
	return s.db.Close()
}

func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.log.Warn().Err(err).Msg("store: begin tx failed, dropping batch")
		return
	}
	for _, m := range batch {
		if _, err := tx.Exec(m.exec, m.args...); err != nil {
			if isBusy(err) {
				// best-effort persistence: a "busy"/"locked" error is
				// swallowed per spec.md §5 backpressure rules.
				s.log.Debug().Err(err).Msg("store: busy during flush, swallowing")
				continue
			}
			s.log.Warn().Err(err).Str("stmt", m.exec).Msg("store: exec failed")
		}
	}
	if err := tx.Commit(); err != nil {
		s.log.Warn().Err(err).Msg("store: commit failed")
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func (s *Store) enqueue(m mutation) {
	s.mu.Lock()
	s.pending = append(s.pending, m)
	s.mu.Unlock()
}

// UpsertCache enqueues a durable write of a resolved artifact.
func (s *Store) UpsertCache(a model.ResolvedArtifact) {
	s.enqueue(mutation{
		exec: `INSERT INTO cache (imdb_id, preview_url, track_id, country, youtube_key, source_type, source, timestamp)
		       VALUES (?,?,?,?,?,?,?,?)
		       ON CONFLICT(imdb_id) DO UPDATE SET
		         preview_url=excluded.preview_url, track_id=excluded.track_id, country=excluded.country,
		         youtube_key=excluded.youtube_key, source_type=excluded.source_type, source=excluded.source,
		         timestamp=excluded.timestamp`,
		args: []any{a.ImdbID, a.PreviewURL, a.TrackID, a.Country, a.YoutubeKey, string(a.SourceType), a.Source, a.Timestamp.Unix()},
	})
}

// DeleteCache enqueues removal of one cache row.
func (s *Store) DeleteCache(imdbID string) {
	s.enqueue(mutation{exec: `DELETE FROM cache WHERE imdb_id = ?`, args: []any{imdbID}})
}

// DeleteAllCache enqueues a full cache wipe.
func (s *Store) DeleteAllCache() {
	s.enqueue(mutation{exec: `DELETE FROM cache`})
}

// LoadRecentCache hydrates up to N most-recently-written cache rows,
// ordered newest first, for startup in-memory seeding.
func (s *Store) LoadRecentCache(ctx context.Context, n int) ([]model.ResolvedArtifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT imdb_id, preview_url, track_id, country, youtube_key, source_type, source, timestamp
		 FROM cache ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ResolvedArtifact
	for rows.Next() {
		var a model.ResolvedArtifact
		var ts int64
		var sourceType string
		if err := rows.Scan(&a.ImdbID, &a.PreviewURL, &a.TrackID, &a.Country, &a.YoutubeKey, &sourceType, &a.Source, &ts); err != nil {
			return nil, err
		}
		a.SourceType = model.SourceType(sourceType)
		a.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertStat enqueues an incremental success/failure/quality write.
func (s *Store) UpsertStat(statType model.StatType, id string, successDelta, totalDelta int64, qualityDelta float64, sampleDelta int64) {
	s.enqueue(mutation{
		exec: `INSERT INTO success_tracker (stat_type, identifier, success_count, total_count, sum_quality, quality_samples)
		       VALUES (?,?,?,?,?,?)
		       ON CONFLICT(stat_type, identifier) DO UPDATE SET
		         success_count = success_count + excluded.success_count,
		         total_count = total_count + excluded.total_count,
		         sum_quality = sum_quality + excluded.sum_quality,
		         quality_samples = quality_samples + excluded.quality_samples`,
		args: []any{string(statType), id, successDelta, totalDelta, qualityDelta, sampleDelta},
	})
}

// LoadTopStatsByType hydrates the top-N stats rows (by total_count) for a
// given type, for startup seeding of the tracker.
func (s *Store) LoadTopStatsByType(ctx context.Context, statType model.StatType, n int) ([]model.SuccessStat, []model.QualityStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, success_count, total_count, sum_quality, quality_samples
		 FROM success_tracker WHERE stat_type = ? ORDER BY total_count DESC LIMIT ?`, string(statType), n)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var successes []model.SuccessStat
	var qualities []model.QualityStat
	for rows.Next() {
		var id string
		var success, total, samples int64
		var sumQuality float64
		if err := rows.Scan(&id, &success, &total, &sumQuality, &samples); err != nil {
			return nil, nil, err
		}
		successes = append(successes, model.SuccessStat{Type: statType, ID: id, Success: success, Total: total})
		qualities = append(qualities, model.QualityStat{Type: statType, ID: id, SumQuality: sumQuality, Samples: samples})
	}
	return successes, qualities, rows.Err()
}

// TrimStatsOverCap deletes the least-active rows of a type beyond cap.
func (s *Store) TrimStatsOverCap(statType model.StatType, cap int) {
	s.enqueue(mutation{
		exec: `DELETE FROM success_tracker WHERE stat_type = ? AND identifier NOT IN (
		         SELECT identifier FROM success_tracker WHERE stat_type = ? ORDER BY total_count DESC LIMIT ?
		       )`,
		args: []any{string(statType), string(statType), cap},
	})
}

// InsertCookie enqueues a new archive.org cookie record.
func (s *Store) InsertCookie(cookies, email string, createdAt time.Time) {
	s.enqueue(mutation{
		exec: `INSERT INTO archive_cookies (cookies, email, created_at, is_valid, use_count) VALUES (?,?,?,1,0)`,
		args: []any{cookies, email, createdAt.Unix()},
	})
}

// PickOldestValidCookie returns the least-recently-used valid cookie, if any.
func (s *Store) PickOldestValidCookie(ctx context.Context) (model.ArchiveCookie, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cookies, email, created_at, last_used, is_valid, use_count
		 FROM archive_cookies WHERE is_valid = 1 ORDER BY last_used ASC NULLS FIRST LIMIT 1`)

	var c model.ArchiveCookie
	var created, lastUsed sql.NullInt64
	var isValid int
	if err := row.Scan(&c.ID, &c.Cookies, &c.Email, &created, &lastUsed, &isValid, &c.UseCount); err != nil {
		if err == sql.ErrNoRows {
			return model.ArchiveCookie{}, false, nil
		}
		return model.ArchiveCookie{}, false, err
	}
	c.CreatedAt = time.Unix(created.Int64, 0).UTC()
	if lastUsed.Valid {
		c.LastUsed = time.Unix(lastUsed.Int64, 0).UTC()
	}
	c.IsValid = isValid == 1
	return c, true, nil
}

// MarkCookieUsed bumps use_count/last_used for a cookie.
func (s *Store) MarkCookieUsed(id int64, at time.Time) {
	s.enqueue(mutation{
		exec: `UPDATE archive_cookies SET last_used = ?, use_count = use_count + 1 WHERE id = ?`,
		args: []any{at.Unix(), id},
	})
}

// MarkCookieInvalid flags a cookie as no longer usable.
func (s *Store) MarkCookieInvalid(id int64) {
	s.enqueue(mutation{exec: `UPDATE archive_cookies SET is_valid = 0 WHERE id = ?`, args: []any{id}})
}

// ListCookies returns all cookie records for the admin endpoint.
func (s *Store) ListCookies(ctx context.Context) ([]model.ArchiveCookie, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cookies, email, created_at, last_used, is_valid, use_count FROM archive_cookies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ArchiveCookie
	for rows.Next() {
		var c model.ArchiveCookie
		var created, lastUsed sql.NullInt64
		var isValid int
		if err := rows.Scan(&c.ID, &c.Cookies, &c.Email, &created, &lastUsed, &isValid, &c.UseCount); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created.Int64, 0).UTC()
		if lastUsed.Valid {
			c.LastUsed = time.Unix(lastUsed.Int64, 0).UTC()
		}
		c.IsValid = isValid == 1
		out = append(out, c)
	}
	return out, rows.Err()
}
