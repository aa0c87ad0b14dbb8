package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/checador/device/types"
)

// TemplateRepository handles persistence for enrolled fingerprint templates.
type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) Create(ctx context.Context, template types.Template) (types.Template, error) {
	template.CreatedAt = time.Now()

	const query = `
		INSERT INTO templates (user_id, features, quality, archive_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		template.UserID,
		template.Features,
		template.Quality,
		template.ArchiveKey,
		template.CreatedAt,
	).Scan(&template.ID); err != nil {
		return types.Template{}, err
	}
	return template, nil
}

func (r *TemplateRepository) ListForUser(ctx context.Context, userID int) ([]types.Template, error) {
	const query = `
		SELECT id, user_id, features, quality, archive_key, created_at
		FROM templates
		WHERE user_id = $1
		ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTemplates(rows)
}

func (r *TemplateRepository) CountForUser(ctx context.Context, userID int) (int, error) {
	const query = `SELECT COUNT(*) FROM templates WHERE user_id = $1`
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListForActiveUsers returns the identification gallery: every template
// whose owner is still active, in creation order.
func (r *TemplateRepository) ListForActiveUsers(ctx context.Context) ([]types.Template, error) {
	const query = `
		SELECT t.id, t.user_id, t.features, t.quality, t.archive_key, t.created_at
		FROM templates t
		JOIN users u ON u.id = t.user_id
		WHERE u.active
		ORDER BY t.created_at, t.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTemplates(rows)
}

func scanTemplates(rows *sql.Rows) ([]types.Template, error) {
	var templates []types.Template
	for rows.Next() {
		var t types.Template
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Features,
			&t.Quality,
			&t.ArchiveKey,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
