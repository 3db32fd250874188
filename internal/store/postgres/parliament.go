package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
)

const (
	dateColumns    = `id, date, title, status, created_at, updated_at`
	subjectColumns = `id, date_id, title, description, submitted_by, submitter_name, status, moderated_by,
		moderated_at, reject_reason, created_at, updated_at`
	noteColumns = `id, subject_id, parent_id, author_id, author_name, text, created_at`
)

func scanDate(row pgx.Row) (model.ParliamentDate, error) {
	var d model.ParliamentDate
	err := row.Scan(&d.ID, &d.Date, &d.Title, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func scanSubject(row pgx.Row) (model.ParliamentSubject, error) {
	var sub model.ParliamentSubject
	err := row.Scan(&sub.ID, &sub.DateID, &sub.Title, &sub.Description, &sub.SubmittedBy, &sub.SubmitterName,
		&sub.Status, &sub.ModeratedBy, &sub.ModeratedAt, &sub.RejectReason, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

func scanNote(row pgx.Row) (model.ParliamentNote, error) {
	var n model.ParliamentNote
	err := row.Scan(&n.ID, &n.SubjectID, &n.ParentID, &n.AuthorID, &n.AuthorName, &n.Text, &n.CreatedAt)
	return n, err
}

// foreignKeyErr maps a missing parent row to ErrNotFound.
func foreignKeyErr(err error) error {
	if pgErr, ok := asPgError(err); ok && pgErr.Code == "23503" {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateParliamentDate(ctx context.Context, d model.ParliamentDate) (model.ParliamentDate, error) {
	now := s.now()
	d.ID = newID(d.ID)
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `INSERT INTO parliament_dates (`+dateColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Date, d.Title, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return model.ParliamentDate{}, err
	}
	return d, nil
}

func (s *Store) GetParliamentDate(ctx context.Context, id string) (model.ParliamentDate, error) {
	d, err := scanDate(s.Pool.QueryRow(ctx, `SELECT `+dateColumns+` FROM parliament_dates WHERE id = $1`, id))
	return d, notFound(err)
}

func (s *Store) ListParliamentDates(ctx context.Context) ([]model.ParliamentDate, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+dateColumns+` FROM parliament_dates ORDER BY date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ParliamentDate{}
	for rows.Next() {
		d, err := scanDate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateParliamentDate(ctx context.Context, d model.ParliamentDate) (model.ParliamentDate, error) {
	updated, err := scanDate(s.Pool.QueryRow(ctx, `
		UPDATE parliament_dates SET date = $2, title = $3, status = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+dateColumns,
		d.ID, d.Date, d.Title, d.Status, s.now()))
	return updated, notFound(err)
}

func (s *Store) CreateSubject(ctx context.Context, sub model.ParliamentSubject) (model.ParliamentSubject, error) {
	now := s.now()
	sub.ID = newID(sub.ID)
	sub.CreatedAt, sub.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO parliament_subjects (`+subjectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sub.ID, sub.DateID, sub.Title, sub.Description, sub.SubmittedBy, sub.SubmitterName, sub.Status,
		sub.ModeratedBy, sub.ModeratedAt, sub.RejectReason, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return model.ParliamentSubject{}, foreignKeyErr(err)
	}
	return sub, nil
}

func (s *Store) GetSubject(ctx context.Context, id string) (model.ParliamentSubject, error) {
	sub, err := scanSubject(s.Pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM parliament_subjects WHERE id = $1`, id))
	return sub, notFound(err)
}

func (s *Store) ListSubjects(ctx context.Context, dateID string) ([]model.ParliamentSubject, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+subjectColumns+` FROM parliament_subjects WHERE date_id = $1 ORDER BY created_at, id`, dateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ParliamentSubject{}
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSubject(ctx context.Context, sub model.ParliamentSubject) (model.ParliamentSubject, error) {
	updated, err := scanSubject(s.Pool.QueryRow(ctx, `
		UPDATE parliament_subjects SET
			title = $2, description = $3, status = $4, moderated_by = $5, moderated_at = $6, reject_reason = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+subjectColumns,
		sub.ID, sub.Title, sub.Description, sub.Status, sub.ModeratedBy, sub.ModeratedAt, sub.RejectReason, s.now()))
	return updated, notFound(err)
}

func (s *Store) CreateNote(ctx context.Context, n model.ParliamentNote) (model.ParliamentNote, error) {
	n.ID = newID(n.ID)
	n.CreatedAt = s.now()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO parliament_notes (`+noteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.SubjectID, n.ParentID, n.AuthorID, n.AuthorName, n.Text, n.CreatedAt)
	if err != nil {
		return model.ParliamentNote{}, foreignKeyErr(err)
	}
	return n, nil
}

func (s *Store) GetNote(ctx context.Context, id string) (model.ParliamentNote, error) {
	n, err := scanNote(s.Pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM parliament_notes WHERE id = $1`, id))
	return n, notFound(err)
}

func (s *Store) ListNotes(ctx context.Context, subjectID string) ([]model.ParliamentNote, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+noteColumns+` FROM parliament_notes WHERE subject_id = $1 ORDER BY created_at, id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ParliamentNote{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := mustAffect(tx.Exec(ctx, `DELETE FROM parliament_notes WHERE id = $1`, id)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM parliament_notes WHERE parent_id = $1`, id)
		return err
	})
}
