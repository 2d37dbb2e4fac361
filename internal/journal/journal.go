package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/johnemcbride/infra-cdk/pkg/api"
)

// Journal is a SQLite-backed append-only record of lifecycle events. It
// survives process restarts so a reboot can be correlated with the fatal
// event that preceded it.
type Journal struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := j.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, e api.Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (kind, artifact_key, detail, recorded_at) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.ArtifactKey, e.Detail, e.Time.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// List returns all events in append order.
func (j *Journal) List(ctx context.Context) ([]api.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, artifact_key, detail, recorded_at FROM lifecycle_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []api.Event
	for rows.Next() {
		var kind, key, detail, at string
		if err := rows.Scan(&kind, &key, &detail, &at); err != nil {
			return nil, err
		}
		ts, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, api.Event{Kind: api.EventKind(kind), ArtifactKey: key, Detail: detail, Time: ts})
	}
	return out, rows.Err()
}

func (j *Journal) Close() error { return j.db.Close() }

// LogRecorder mirrors lifecycle events to the structured log.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, e api.Event) error {
	log.Info().
		Str("kind", string(e.Kind)).
		Str("artifact_key", e.ArtifactKey).
		Str("detail", e.Detail).
		Msg("lifecycle_event")
	return nil
}

// Tee fans an event out to several recorders. Individual failures are
// logged, never returned: one broken sink must not silence the others.
type Tee []api.Recorder

func (t Tee) Record(ctx context.Context, e api.Event) error {
	for _, r := range t {
		if err := r.Record(ctx, e); err != nil {
			log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("event recorder failed")
		}
	}
	return nil
}
