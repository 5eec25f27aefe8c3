package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/robert-malhotra/orbit-imager/internal/session"

	_ "modernc.org/sqlite"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS imaging_sessions (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT    NOT NULL UNIQUE,
	started_at      INTEGER NOT NULL,
	ended_at        INTEGER NOT NULL,
	start_lat       REAL    NOT NULL,
	start_lon       REAL    NOT NULL,
	end_lat         REAL    NOT NULL,
	end_lon         REAL    NOT NULL,
	footprint       TEXT,
	location        TEXT    NOT NULL,
	location_status TEXT    NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_imaging_sessions_started_at ON imaging_sessions(started_at)`,
}

const selectColumns = `id, started_at, ended_at, start_lat, start_lon, end_lat, end_lon, footprint, location, location_status`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if isMemoryPath(path) {
		// Every connection to an in-memory database gets its own empty copy.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	// WAL lets readers proceed while a location is attached.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: slog.Default()}
	if err := s.transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return s, nil
}

// WithLogger sets the logger.
func (s *SQLiteStore) WithLogger(logger *slog.Logger) *SQLiteStore {
	s.logger = logger
	return s
}

// Append records a finished session.
func (s *SQLiteStore) Append(ctx context.Context, sess session.Session) error {
	if err := validate(sess); err != nil {
		return err
	}

	var fp sql.NullString
	if sess.Footprint != nil {
		data, err := json.Marshal(sess.Footprint)
		if err != nil {
			return fmt.Errorf("failed to encode footprint: %w", err)
		}
		fp = sql.NullString{String: string(data), Valid: true}
	}

	status := sess.LocationStatus
	if status == "" {
		status = session.LocationPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO imaging_sessions (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.StartedAt.UnixNano(),
		sess.EndedAt.UnixNano(),
		sess.StartCoords.LatitudeDeg,
		sess.StartCoords.LongitudeDeg,
		sess.EndCoords.LatitudeDeg,
		sess.EndCoords.LongitudeDeg,
		fp,
		sess.Location,
		string(status),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	s.logger.DebugContext(ctx, "session recorded", slog.String("session_id", sess.ID))
	return nil
}

// AttachLocation sets the location of a pending session.
func (s *SQLiteStore) AttachLocation(ctx context.Context, id, label string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE imaging_sessions
		SET location = ?, location_status = ?
		WHERE id = ? AND location_status != ?`,
		label, string(session.LocationResolved), id, string(session.LocationResolved))
	if err != nil {
		return false, fmt.Errorf("failed to attach location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to attach location: %w", err)
	}
	return n == 1, nil
}

// Get returns a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM imaging_sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, ErrNotFound
	}
	return sess, err
}

// List returns a page of sessions, oldest first.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]session.Session, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []session.Session{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM imaging_sessions ORDER BY seq LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []session.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// Len returns the number of recorded sessions.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM imaging_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// isMemoryPath reports whether path names a SQLite in-memory database.
func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// transaction executes fn within a database transaction.
func (s *SQLiteStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.Session, error) {
	var (
		sess               session.Session
		started, ended     int64
		fp                 sql.NullString
		status             string
		startLat, startLon float64
		endLat, endLon     float64
	)
	err := row.Scan(&sess.ID, &started, &ended,
		&startLat, &startLon, &endLat, &endLon,
		&fp, &sess.Location, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, err
		}
		return session.Session{}, fmt.Errorf("failed to read session: %w", err)
	}

	sess.StartedAt = time.Unix(0, started).UTC()
	endedAt := time.Unix(0, ended).UTC()
	sess.EndedAt = &endedAt
	sess.StartCoords = geodesy.GeoCoordinate{LatitudeDeg: startLat, LongitudeDeg: startLon}
	sess.EndCoords = geodesy.GeoCoordinate{LatitudeDeg: endLat, LongitudeDeg: endLon}
	sess.LocationStatus = session.LocationStatus(status)

	if fp.Valid {
		var f footprint.Footprint
		if err := json.Unmarshal([]byte(fp.String), &f); err != nil {
			return session.Session{}, fmt.Errorf("failed to decode footprint for %s: %w", sess.ID, err)
		}
		sess.Footprint = &f
	}

	return sess, nil
}
