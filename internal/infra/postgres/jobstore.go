package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

// ErrJobNotFound is returned when a job id has no row.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists jobs and their trained versions in PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Connect opens a pgx pool against the given DSN and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, type, status, progress, webhook_url,
		       COALESCE(error_message, ''), storage_bytes,
		       created_at, started_at, completed_at
		FROM jobs WHERE id = $1`, id)

	var job entity.Job
	err := row.Scan(
		&job.ID, &job.UserID, &job.Type, &job.Status, &job.Progress,
		&job.WebhookURL, &job.ErrorMessage, &job.StorageBytes,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}

	versions, err := s.listVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Versions = versions
	return &job, nil
}

func (s *JobStore) listVersions(ctx context.Context, jobID uuid.UUID) ([]entity.Version, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT number, storage_key, model_url, size_bytes, created_at,
		       trigger_phrase, steps, learning_rate, frame_count
		FROM job_versions WHERE job_id = $1 ORDER BY number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []entity.Version
	for rows.Next() {
		var v entity.Version
		if err := rows.Scan(
			&v.Number, &v.StorageKey, &v.ModelURL, &v.SizeBytes, &v.CreatedAt,
			&v.Config.Trigger, &v.Config.Steps, &v.Config.LearningRate, &v.Config.FrameCount,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// UpdateStatus advances a job's lifecycle. Progress never moves backwards,
// the first transition to processing stamps started_at, and a terminal
// completed status forces progress to 100 and stamps completed_at.
func (s *JobStore) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus, progress int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $2,
			progress = CASE WHEN $2 = 'completed' THEN 100 ELSE GREATEST(progress, $3) END,
			error_message = CASE WHEN $4 = '' THEN error_message ELSE $4 END,
			started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END
		WHERE id = $1`, id, status, progress, errMsg)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// AppendVersion allocates the next version number and inserts the version
// row in a single transaction, so concurrent trainings of the same job
// cannot observe the same number.
func (s *JobStore) AppendVersion(ctx context.Context, id uuid.UUID, version entity.Version) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var number int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) + 1 FROM job_versions WHERE job_id = $1`, id,
	).Scan(&number); err != nil {
		return 0, fmt.Errorf("allocate version number: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_versions
			(job_id, number, storage_key, model_url, size_bytes, created_at,
			 trigger_phrase, steps, learning_rate, frame_count)
		VALUES ($1, $2, $3, $4, $5, now(), $6, $7, $8, $9)`,
		id, number, version.StorageKey, version.ModelURL, version.SizeBytes,
		version.Config.Trigger, version.Config.Steps, version.Config.LearningRate, version.Config.FrameCount,
	); err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET storage_bytes = storage_bytes + $2 WHERE id = $1`,
		id, version.SizeBytes)
	if err != nil {
		return 0, fmt.Errorf("update storage bytes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrJobNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit version: %w", err)
	}
	return number, nil
}

// Create inserts a queued job. Used by tests and backfill tooling; the
// API service normally owns job creation.
func (s *JobStore) Create(ctx context.Context, job *entity.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, user_id, type, status, progress, webhook_url, storage_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		job.ID, job.UserID, job.Type, job.Status, job.Progress, job.WebhookURL, job.StorageBytes)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}
