package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/saveenergy/pagevitals/internal/logging"
	"github.com/saveenergy/pagevitals/internal/metrics"
	"github.com/saveenergy/pagevitals/pkg/types"
)

const cleanupInterval = 1 * time.Hour

// ErrStoreRetryable marks failures caused by a busy or locked database.
var ErrStoreRetryable = errors.New("store temporarily unavailable")

type Store struct {
	db         *sql.DB
	maxReports int
	retention  time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func New(dbPath string, maxReports int, retention time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{
		db:         db,
		maxReports: maxReports,
		retention:  retention,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}

	s.cleanup()

	s.wg.Add(1)
	go s.cleanupLoop()

	return s, nil
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			logging.Warn("report store: close failed", logging.Field{Key: "error", Value: err})
		}
	})
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			user_agent TEXT NOT NULL DEFAULT '',
			client_ip TEXT NOT NULL DEFAULT '',
			reported_at INTEGER NOT NULL,
			received_at INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_received_at ON reports(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_url ON reports(url, received_at)`,
		`CREATE TABLE IF NOT EXISTS samples (
			report_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			url TEXT NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			rating TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			extra TEXT NOT NULL DEFAULT '',
			received_at INTEGER NOT NULL,
			PRIMARY KEY (report_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_page ON samples(url, name, received_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save stores report and its samples in one transaction and returns the new
// report id.
func (s *Store) Save(ctx context.Context, report types.Report, clientIP string) (string, error) {
	id := uuid.NewString()
	received := s.now().UTC().UnixMilli()

	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (id, url, user_agent, client_ip, reported_at, received_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, report.URL, report.UserAgent, clientIP, report.Timestamp, received, string(summary))
	if err != nil {
		return "", classify(fmt.Errorf("insert report: %w", err))
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples (report_id, seq, url, name, value, rating, ts, extra, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", classify(fmt.Errorf("prepare samples: %w", err))
	}
	defer stmt.Close()

	for i, m := range report.Metrics {
		extra := ""
		if len(m.Extra) > 0 {
			b, err := json.Marshal(m.Extra)
			if err != nil {
				return "", fmt.Errorf("marshal sample extra: %w", err)
			}
			extra = string(b)
		}
		if _, err := stmt.ExecContext(ctx, id, i, report.URL, m.Name, m.Value, string(m.Rating), m.Timestamp, extra, received); err != nil {
			return "", classify(fmt.Errorf("insert sample: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return "", classify(fmt.Errorf("commit: %w", err))
	}
	return id, nil
}

// Get returns the stored report, or nil when no report has that id.
func (s *Store) Get(ctx context.Context, id string) (*types.StoredReport, error) {
	var (
		r        types.StoredReport
		received int64
		summary  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, user_agent, client_ip, reported_at, received_at, summary
		FROM reports WHERE id = ?`, id,
	).Scan(&r.ID, &r.URL, &r.UserAgent, &r.ClientIP, &r.Timestamp, &received, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("query report: %w", err))
	}
	r.ReceivedAt = time.UnixMilli(received).UTC()
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, rating, ts, extra FROM samples WHERE report_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, classify(fmt.Errorf("query samples: %w", err))
	}
	defer rows.Close()

	r.Metrics = []types.MetricSample{}
	for rows.Next() {
		var (
			m      types.MetricSample
			rating string
			extra  string
		)
		if err := rows.Scan(&m.Name, &m.Value, &rating, &m.Timestamp, &extra); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		m.Rating = types.Rating(rating)
		if extra != "" {
			if err := json.Unmarshal([]byte(extra), &m.Extra); err != nil {
				return nil, fmt.Errorf("decode sample extra: %w", err)
			}
		}
		r.Metrics = append(r.Metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

// PageSummary aggregates every sample of url received in [since, now].
// Ratings of the returned metrics are left for the caller to fill in.
func (s *Store) PageSummary(ctx context.Context, url string, since time.Time) (*types.PageSummary, error) {
	summary := &types.PageSummary{
		URL:         url,
		WindowStart: since.UTC(),
		WindowEnd:   s.now().UTC(),
		Metrics:     map[string]types.MetricSummary{},
	}
	sinceMs := since.UTC().UnixMilli()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE url = ? AND received_at >= ?`, url, sinceMs,
	).Scan(&summary.Reports); err != nil {
		return nil, classify(fmt.Errorf("count reports: %w", err))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, rating FROM samples WHERE url = ? AND received_at >= ?`, url, sinceMs)
	if err != nil {
		return nil, classify(fmt.Errorf("query samples: %w", err))
	}
	defer rows.Close()

	values := map[string][]float64{}
	ratings := map[string][]types.Rating{}
	for rows.Next() {
		var (
			name   string
			value  float64
			rating string
		)
		if err := rows.Scan(&name, &value, &rating); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		values[name] = append(values[name], value)
		ratings[name] = append(ratings[name], types.Rating(rating))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for name, v := range values {
		summary.Metrics[name] = metrics.Summarize(v, ratings[name])
	}
	return summary, nil
}

// Pages lists the URLs that reported since the given time, most recent first.
func (s *Store) Pages(ctx context.Context, since time.Time, limit int) ([]types.PageInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, COUNT(*), MAX(received_at) FROM reports
		WHERE received_at >= ? GROUP BY url ORDER BY MAX(received_at) DESC LIMIT ?`,
		since.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("query pages: %w", err))
	}
	defer rows.Close()

	pages := []types.PageInfo{}
	for rows.Next() {
		var (
			p    types.PageInfo
			last int64
		)
		if err := rows.Scan(&p.URL, &p.Reports, &last); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.LastReport = time.UnixMilli(last).UTC()
		pages = append(pages, p)
	}
	return pages, classify(rows.Err())
}

// Count returns the number of stored reports.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count reports: %w", err))
	}
	return n, nil
}

func (s *Store) cleanup() {
	if s.retention > 0 {
		cutoff := s.now().UTC().Add(-s.retention).UnixMilli()
		res, err := s.db.Exec(`DELETE FROM reports WHERE received_at < ?`, cutoff)
		if err != nil {
			logging.Warn("report cleanup (age) failed", logging.Field{Key: "error", Value: err})
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("report cleanup: removed expired",
				logging.Field{Key: "count", Value: n})
		}
	}

	// Trim to max count, keeping newest
	if s.maxReports > 0 {
		res, err := s.db.Exec(
			`DELETE FROM reports WHERE id NOT IN (
				SELECT id FROM reports ORDER BY received_at DESC LIMIT ?
			)`, s.maxReports)
		if err != nil {
			logging.Warn("report cleanup (count) failed", logging.Field{Key: "error", Value: err})
		} else if n, _ := res.RowsAffected(); n > 0 {
			logging.Info("report cleanup: trimmed to max",
				logging.Field{Key: "removed", Value: n},
				logging.Field{Key: "max", Value: s.maxReports})
		}
	}

	if _, err := s.db.Exec(`DELETE FROM samples WHERE report_id NOT IN (SELECT id FROM reports)`); err != nil {
		logging.Warn("report cleanup (samples) failed", logging.Field{Key: "error", Value: err})
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return errors.Join(ErrStoreRetryable, err)
	}
	return err
}
