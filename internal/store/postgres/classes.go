package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
)

const classColumns = `id, class_id, class_id_lower, name, location, student_ids, teacher_id, created_at, updated_at`

func scanClass(row pgx.Row) (model.Class, error) {
	var class model.Class
	err := row.Scan(
		&class.ID,
		&class.ClassID,
		&class.ClassIDLower,
		&class.Name,
		&class.Location,
		&class.StudentIDs,
		&class.TeacherID,
		&class.CreatedAt,
		&class.UpdatedAt,
	)
	return class, err
}

func classIDErr(err error) error {
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == "classes_pkey" {
			return store.ErrConflict
		}
		return store.ErrClassIDTaken
	}
	return err
}

func collectClasses(rows pgx.Rows, err error) ([]model.Class, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Class{}
	for rows.Next() {
		class, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, class)
	}
	return out, rows.Err()
}

func (s *Store) CreateClass(ctx context.Context, class model.Class) (model.Class, error) {
	now := s.now()
	class.ID = newID(class.ID)
	class.StudentIDs = nonNil(class.StudentIDs)
	class.CreatedAt, class.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO classes (`+classColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, class.ID, class.ClassID, class.ClassIDLower, class.Name, class.Location, class.StudentIDs, class.TeacherID, class.CreatedAt, class.UpdatedAt)
	if err != nil {
		return model.Class{}, classIDErr(err)
	}
	return class, nil
}

func (s *Store) GetClass(ctx context.Context, id string) (model.Class, error) {
	class, err := scanClass(s.Pool.QueryRow(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	return class, notFound(err)
}

func (s *Store) FindClassesByBusinessID(ctx context.Context, classIDsLower []string) ([]model.Class, error) {
	return collectClasses(s.Pool.Query(ctx, `SELECT `+classColumns+` FROM classes WHERE class_id_lower = ANY($1)`, nonNil(classIDsLower)))
}

func (s *Store) FindClassesByID(ctx context.Context, ids []string) ([]model.Class, error) {
	return collectClasses(s.Pool.Query(ctx, `SELECT `+classColumns+` FROM classes WHERE id = ANY($1)`, nonNil(ids)))
}

func (s *Store) ListClasses(ctx context.Context) ([]model.Class, error) {
	return collectClasses(s.Pool.Query(ctx, `SELECT `+classColumns+` FROM classes ORDER BY name, id`))
}

func (s *Store) UpdateClass(ctx context.Context, class model.Class) (model.Class, error) {
	now := s.now()
	var updated model.Class
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var previous string
		if err := tx.QueryRow(ctx, `SELECT class_id_lower FROM classes WHERE id = $1 FOR UPDATE`, class.ID).Scan(&previous); err != nil {
			return notFound(err)
		}
		var err error
		updated, err = scanClass(tx.QueryRow(ctx, `
			UPDATE classes SET
				class_id = $2, class_id_lower = $3, name = $4, location = $5, student_ids = $6, teacher_id = $7, updated_at = $8
			WHERE id = $1
			RETURNING `+classColumns,
			class.ID, class.ClassID, class.ClassIDLower, class.Name, class.Location, nonNil(class.StudentIDs), class.TeacherID, now))
		if err != nil {
			return classIDErr(notFound(err))
		}
		if previous == "" || previous == class.ClassIDLower {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE timetable_entries SET class_id = $2, updated_at = $3 WHERE lower(class_id) = $1
		`, previous, class.ClassID, now); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE users SET
				class_id = CASE WHEN lower(class_id) = $1 THEN $2 ELSE class_id END,
				classes = ARRAY(SELECT CASE WHEN lower(c) = $1 THEN $2 ELSE c END FROM unnest(classes) AS c),
				updated_at = $3
			WHERE lower(class_id) = $1 OR EXISTS (SELECT 1 FROM unnest(classes) AS c WHERE lower(c) = $1)
		`, previous, class.ClassID, now)
		return err
	})
	if err != nil {
		return model.Class{}, err
	}
	return updated, nil
}

func (s *Store) DeleteClass(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var businessID string
		err := tx.QueryRow(ctx, `DELETE FROM classes WHERE id = $1 RETURNING class_id`, id).Scan(&businessID)
		if err != nil {
			return notFound(err)
		}
		_, err = tx.Exec(ctx, `DELETE FROM timetable_entries WHERE class_id = $1 OR (class_id = $2 AND $2 <> '')`, id, businessID)
		return err
	})
}

func (s *Store) AddClassStudents(ctx context.Context, id string, studentIDs []string) error {
	return mustAffect(s.Pool.Exec(ctx, `
		UPDATE classes
		SET student_ids = student_ids || ARRAY(SELECT DISTINCT x FROM unnest($2::text[]) AS x WHERE x <> ALL(student_ids)),
		    updated_at = $3
		WHERE id = $1
	`, id, nonNil(studentIDs), s.now()))
}

func (s *Store) RemoveClassStudents(ctx context.Context, id string, studentIDs []string) error {
	return mustAffect(s.Pool.Exec(ctx, `
		UPDATE classes
		SET student_ids = ARRAY(SELECT x FROM unnest(student_ids) WITH ORDINALITY AS t(x, n) WHERE x <> ALL($2::text[]) ORDER BY n),
		    updated_at = $3
		WHERE id = $1
	`, id, nonNil(studentIDs), s.now()))
}
