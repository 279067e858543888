package video

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, v *Video) error {
	query := `INSERT INTO videos (name, path, source_url, status) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, v.Name, v.Path, v.SourceURL, v.Status).
		Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Video, error) {
	v := &Video{}
	query := `SELECT id, name, path, source_url, status, chunk_count, COALESCE(error, ''), created_at, updated_at FROM videos WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&v.ID, &v.Name, &v.Path, &v.SourceURL, &v.Status, &v.ChunkCount, &v.Error, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Video, error) {
	query := `SELECT id, name, path, source_url, status, chunk_count, COALESCE(error, ''), created_at, updated_at FROM videos WHERE deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.ID, &v.Name, &v.Path, &v.SourceURL, &v.Status, &v.ChunkCount, &v.Error, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE videos SET status = $1, error = NULL, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) SetReady(ctx context.Context, id string, chunkCount int) error {
	query := `UPDATE videos SET status = 'ready', chunk_count = $1, error = NULL, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, chunkCount, id)
	return err
}

func (r *PostgresRepo) SetFailure(ctx context.Context, id, errMsg string) error {
	query := `UPDATE videos SET status = 'failed', error = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, errMsg, id)
	return err
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE videos SET deleted_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM videos WHERE deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
