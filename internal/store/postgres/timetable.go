package postgres

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
)

const entryColumns = `id, class_id, lesson_id, day, start_minutes, end_minutes, created_at, updated_at`

func scanEntry(row pgx.Row) (model.TimetableEntry, error) {
	var entry model.TimetableEntry
	err := row.Scan(
		&entry.ID,
		&entry.ClassID,
		&entry.LessonID,
		&entry.Day,
		&entry.StartMinutes,
		&entry.EndMinutes,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	return entry, err
}

func (s *Store) ListEntries(ctx context.Context, filter store.EntryFilter) ([]model.TimetableEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM timetable_entries
		WHERE ($1::text[] IS NULL OR class_id = ANY($1))
		  AND ($2 = '' OR lesson_id = $2)
		  AND ($3 < 0 OR day = $3)
		ORDER BY day, start_minutes, id
	`, filter.ClassRefs, filter.LessonID, filter.Day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TimetableEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ApplyTimetableBatch serialises writers of the same class with a transaction-scoped
// advisory lock keyed on the folded class references.
func (s *Store) ApplyTimetableBatch(ctx context.Context, classRefs []string, batch model.TimetableBatch) error {
	if batch.Empty() {
		return nil
	}
	refs := make([]string, 0, len(classRefs))
	for _, ref := range classRefs {
		refs = append(refs, textnorm.Fold(ref))
	}
	sort.Strings(refs)
	refs = slices.Compact(refs)
	lockKey := "timetable:" + strings.Join(refs, ",")
	now := s.now()

	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return err
		}
		for _, id := range batch.Deletes {
			if err := mustAffect(tx.Exec(ctx, `DELETE FROM timetable_entries WHERE id = $1`, id)); err != nil {
				return conflictIfMissing(err)
			}
		}
		for _, update := range batch.Updates {
			if err := mustAffect(tx.Exec(ctx, `UPDATE timetable_entries SET lesson_id = $2, updated_at = $3 WHERE id = $1`,
				update.ID, update.LessonID, now)); err != nil {
				return conflictIfMissing(err)
			}
		}
		for _, create := range batch.Creates {
			var occupied bool
			err := tx.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM timetable_entries
					WHERE class_id = ANY($1) AND day = $2 AND start_minutes < $4 AND $3 < end_minutes
				)
			`, store.ConflictScope(nonNil(classRefs), create.ClassID), create.Day, create.StartMinutes, create.EndMinutes).Scan(&occupied)
			if err != nil {
				return err
			}
			if occupied {
				return store.ErrConflict
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO timetable_entries (`+entryColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, newID(create.ID), create.ClassID, create.LessonID, create.Day, create.StartMinutes, create.EndMinutes, now, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func conflictIfMissing(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return store.ErrConflict
	}
	return err
}
