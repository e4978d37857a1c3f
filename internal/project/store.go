package project

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; the store refuses to open a mismatched database.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ProjectRecord is the persisted form of one project: the index row plus
// its scene rows.
type ProjectRecord struct {
	ProjectID     string
	Priority      int
	PathIn        string
	Encoder       string
	EncoderParams string
	FFmpegParams  string
	MinFrames     int
	MaxFrames     int
	InputFrames   int
	Grain         bool
	OnComplete    string
	Scenes        map[string]Scene
}

// Store manages project persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore initializes or connects to the project database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to recreate)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// SaveAll replaces the persisted state with the given records in one
// transaction. The registry calls this after every action, mirroring a full
// rewrite of the project index.
func (s *Store) SaveAll(ctx context.Context, records []ProjectRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM scenes"); err != nil {
		return fmt.Errorf("clear scenes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM projects"); err != nil {
		return fmt.Errorf("clear projects: %w", err)
	}

	for _, record := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects (
                projectid, priority, path_in, encoder, encoder_params,
                ffmpeg_params, min_frames, max_frames, input_frames, grain, on_complete
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ProjectID,
			record.Priority,
			record.PathIn,
			record.Encoder,
			record.EncoderParams,
			record.FFmpegParams,
			record.MinFrames,
			record.MaxFrames,
			record.InputFrames,
			boolToInt(record.Grain),
			record.OnComplete,
		)
		if err != nil {
			return fmt.Errorf("insert project %s: %w", record.ProjectID, err)
		}

		for scene, info := range record.Scenes {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO scenes (projectid, scene, start, frames, segment, filesize, bad)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				record.ProjectID,
				scene,
				info.Start,
				info.Frames,
				info.Segment,
				info.Filesize,
				boolToInt(info.Bad),
			)
			if err != nil {
				return fmt.Errorf("insert scene %s/%s: %w", record.ProjectID, scene, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// LoadAll reads every persisted project with its scenes.
func (s *Store) LoadAll(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT projectid, priority, path_in, encoder, encoder_params,
                ffmpeg_params, min_frames, max_frames, input_frames, grain, on_complete
         FROM projects ORDER BY projectid`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var records []ProjectRecord
	index := make(map[string]int)
	for rows.Next() {
		var record ProjectRecord
		var grain int
		if err := rows.Scan(
			&record.ProjectID,
			&record.Priority,
			&record.PathIn,
			&record.Encoder,
			&record.EncoderParams,
			&record.FFmpegParams,
			&record.MinFrames,
			&record.MaxFrames,
			&record.InputFrames,
			&grain,
			&record.OnComplete,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		record.Grain = grain != 0
		record.Scenes = make(map[string]Scene)
		index[record.ProjectID] = len(records)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	sceneRows, err := s.db.QueryContext(ctx,
		"SELECT projectid, scene, start, frames, segment, filesize, bad FROM scenes")
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer sceneRows.Close()

	for sceneRows.Next() {
		var projectID, scene string
		var info Scene
		var bad int
		if err := sceneRows.Scan(&projectID, &scene, &info.Start, &info.Frames, &info.Segment, &info.Filesize, &bad); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		info.Bad = bad != 0
		if i, ok := index[projectID]; ok {
			records[i].Scenes[scene] = info
		}
	}
	if err := sceneRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}

	return records, nil
}

func recordFromProject(p *Project) ProjectRecord {
	return ProjectRecord{
		ProjectID:     p.ID,
		Priority:      p.Priority,
		PathIn:        p.InputPath,
		Encoder:       p.Encoder,
		EncoderParams: p.EncoderParams,
		FFmpegParams:  p.FFmpegParams,
		MinFrames:     p.MinFrames,
		MaxFrames:     p.MaxFrames,
		InputFrames:   p.inputFramesSnapshot(),
		Grain:         p.Grain,
		OnComplete:    p.OnComplete,
		Scenes:        p.snapshotScenes(),
	}
}

func (p *Project) inputFramesSnapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputFrames
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
