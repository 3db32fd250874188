package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
)

const lessonColumns = `id, name, teacher_user_id, teacher_first_name, teacher_last_name, is_student_teacher,
	student_teacher_user_id, students_user_ids, created_at, updated_at`

const appendMembers = `students_user_ids || ARRAY(SELECT DISTINCT x FROM unnest($2::text[]) AS x WHERE x <> ALL(students_user_ids))`

const removeMembers = `ARRAY(SELECT x FROM unnest(students_user_ids) WITH ORDINALITY AS t(x, n) WHERE x <> ALL($2::text[]) ORDER BY n)`

func scanLesson(row pgx.Row) (model.Lesson, error) {
	var lesson model.Lesson
	err := row.Scan(
		&lesson.ID,
		&lesson.Name,
		&lesson.TeacherUserID,
		&lesson.TeacherFirstName,
		&lesson.TeacherLastName,
		&lesson.IsStudentTeacher,
		&lesson.StudentTeacherUserID,
		&lesson.StudentsUserIDs,
		&lesson.CreatedAt,
		&lesson.UpdatedAt,
	)
	return lesson, err
}

func collectLessons(rows pgx.Rows, err error) ([]model.Lesson, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Lesson{}
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lesson)
	}
	return out, rows.Err()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *Store) CreateLesson(ctx context.Context, lesson model.Lesson) (model.Lesson, error) {
	now := s.now()
	lesson.ID = newID(lesson.ID)
	lesson.StudentsUserIDs = dedupe(lesson.StudentsUserIDs)
	lesson.CreatedAt, lesson.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO lessons (`+lessonColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, lesson.ID, lesson.Name, lesson.TeacherUserID, lesson.TeacherFirstName, lesson.TeacherLastName, lesson.IsStudentTeacher,
		lesson.StudentTeacherUserID, lesson.StudentsUserIDs, lesson.CreatedAt, lesson.UpdatedAt)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return model.Lesson{}, store.ErrConflict
		}
		return model.Lesson{}, err
	}
	return lesson, nil
}

func (s *Store) GetLesson(ctx context.Context, id string) (model.Lesson, error) {
	lesson, err := scanLesson(s.Pool.QueryRow(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id))
	return lesson, notFound(err)
}

func (s *Store) ListLessons(ctx context.Context) ([]model.Lesson, error) {
	return collectLessons(s.Pool.Query(ctx, `SELECT `+lessonColumns+` FROM lessons ORDER BY name, id`))
}

func (s *Store) FindLessonsByID(ctx context.Context, ids []string) ([]model.Lesson, error) {
	return collectLessons(s.Pool.Query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = ANY($1)`, nonNil(ids)))
}

func (s *Store) UpdateLesson(ctx context.Context, lesson model.Lesson) (model.Lesson, error) {
	updated, err := scanLesson(s.Pool.QueryRow(ctx, `
		UPDATE lessons SET
			name = $2, teacher_user_id = $3, teacher_first_name = $4, teacher_last_name = $5,
			is_student_teacher = $6, student_teacher_user_id = $7, students_user_ids = $8, updated_at = $9
		WHERE id = $1
		RETURNING `+lessonColumns,
		lesson.ID, lesson.Name, lesson.TeacherUserID, lesson.TeacherFirstName, lesson.TeacherLastName,
		lesson.IsStudentTeacher, lesson.StudentTeacherUserID, dedupe(lesson.StudentsUserIDs), s.now()))
	return updated, notFound(err)
}

func (s *Store) DeleteLesson(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := mustAffect(tx.Exec(ctx, `DELETE FROM lessons WHERE id = $1`, id)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM timetable_entries WHERE lesson_id = $1`, id)
		return err
	})
}

func (s *Store) AddLessonStudents(ctx context.Context, id string, studentIDs []string) error {
	return addLessonStudents(ctx, s.Pool, id, studentIDs, s.now())
}

func (s *Store) RemoveLessonStudents(ctx context.Context, id string, studentIDs []string) error {
	return removeLessonStudents(ctx, s.Pool, id, studentIDs, s.now())
}

func (s *Store) MoveLessonStudents(ctx context.Context, fromID, toID string, studentIDs []string) error {
	now := s.now()
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := removeLessonStudents(ctx, tx, fromID, studentIDs, now); err != nil {
			return err
		}
		return addLessonStudents(ctx, tx, toID, studentIDs, now)
	})
}

func addLessonStudents(ctx context.Context, q querier, id string, studentIDs []string, now time.Time) error {
	return mustAffect(q.Exec(ctx, `UPDATE lessons SET students_user_ids = `+appendMembers+`, updated_at = $3 WHERE id = $1`,
		id, nonNil(studentIDs), now))
}

func removeLessonStudents(ctx context.Context, q querier, id string, studentIDs []string, now time.Time) error {
	return mustAffect(q.Exec(ctx, `UPDATE lessons SET students_user_ids = `+removeMembers+`, updated_at = $3 WHERE id = $1`,
		id, nonNil(studentIDs), now))
}

func (s *Store) CountLessonsWithStudent(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM lessons WHERE $1 = ANY(students_user_ids)`, userID).Scan(&count)
	return count, err
}
