package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/PortNumber53/tubesum/backend/internal/models"
)

// ErrSummaryNotFound is returned when a summary does not exist or belongs to
// another user.
var ErrSummaryNotFound = errors.New("summary not found")

const defaultPageSize = 200

// CreateSummary persists a summarisation result and fills in its ID and
// creation time.
func (s *Store) CreateSummary(ctx context.Context, summary *models.Summary) error {
	timestamps, err := json.Marshal(summary.Timestamps)
	if err != nil {
		return fmt.Errorf("store: encode timestamps: %w", err)
	}

	query := `
INSERT INTO summaries (
	user_id, youtube_url, video_title, summary_text, key_points,
	timestamps, main_takeaways, summary_format, summary_length
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at`

	err = s.db.QueryRowContext(ctx, query,
		summary.UserID,
		summary.YouTubeURL,
		summary.VideoTitle,
		summary.SummaryText,
		pq.Array(summary.KeyPoints),
		timestamps,
		pq.Array(summary.MainTakeaways),
		summary.Format,
		summary.Length,
	).Scan(&summary.ID, &summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create summary: %w", err)
	}
	return nil
}

// ListSummaries returns up to limit summaries for userID, newest first.
func (s *Store) ListSummaries(ctx context.Context, userID string, limit int) ([]models.Summary, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `
SELECT id, user_id, youtube_url, video_title, summary_text, key_points,
	timestamps, main_takeaways, summary_format, summary_length, created_at
FROM summaries
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list summaries: %w", err)
	}
	defer rows.Close()

	summaries := []models.Summary{}
	for rows.Next() {
		var (
			sum        models.Summary
			title      sql.NullString
			text       sql.NullString
			timestamps []byte
		)
		if err := rows.Scan(
			&sum.ID,
			&sum.UserID,
			&sum.YouTubeURL,
			&title,
			&text,
			pq.Array(&sum.KeyPoints),
			&timestamps,
			pq.Array(&sum.MainTakeaways),
			&sum.Format,
			&sum.Length,
			&sum.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		sum.VideoTitle = title.String
		sum.SummaryText = text.String
		if len(timestamps) > 0 {
			if err := json.Unmarshal(timestamps, &sum.Timestamps); err != nil {
				return nil, fmt.Errorf("store: decode timestamps: %w", err)
			}
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate summaries: %w", err)
	}
	return summaries, nil
}

// DeleteSummary removes a summary owned by userID.
func (s *Store) DeleteSummary(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM summaries WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("store: delete summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete summary: %w", err)
	}
	if affected == 0 {
		return ErrSummaryNotFound
	}
	return nil
}
