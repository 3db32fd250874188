package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"schoolboard/internal/model"
)

const announcementColumns = `id, text, type, start_at, end_at, created_by, created_at, updated_at`

func scanAnnouncement(row pgx.Row) (model.Announcement, error) {
	var a model.Announcement
	err := row.Scan(&a.ID, &a.Text, &a.Type, &a.StartAt, &a.EndAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	now := s.now()
	a.ID = newID(a.ID)
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO announcements (`+announcementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.Text, a.Type, a.StartAt, a.EndAt, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return model.Announcement{}, err
	}
	return a, nil
}

func (s *Store) GetAnnouncement(ctx context.Context, id string) (model.Announcement, error) {
	a, err := scanAnnouncement(s.Pool.QueryRow(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id))
	return a, notFound(err)
}

func (s *Store) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+announcementColumns+` FROM announcements ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Announcement{}
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	updated, err := scanAnnouncement(s.Pool.QueryRow(ctx, `
		UPDATE announcements SET text = $2, type = $3, start_at = $4, end_at = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+announcementColumns,
		a.ID, a.Text, a.Type, a.StartAt, a.EndAt, s.now()))
	return updated, notFound(err)
}

func (s *Store) DeleteAnnouncement(ctx context.Context, id string) error {
	return mustAffect(s.Pool.Exec(ctx, `DELETE FROM announcements WHERE id = $1`, id))
}

func (s *Store) DeleteAnnouncementsEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM announcements WHERE end_at IS NOT NULL AND end_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
