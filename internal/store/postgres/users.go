package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
)

const userColumns = `id, username, username_lower, first_name, last_name, role, email, birthday,
	class_id, class_doc_id, class_name, classes, advisor_id, advisor_name, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.UsernameLower,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.Email,
		&user.Birthday,
		&user.ClassID,
		&user.ClassDocID,
		&user.ClassName,
		&user.Classes,
		&user.AdvisorID,
		&user.AdvisorName,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func usernameErr(err error) error {
	if _, ok := uniqueConstraint(err); ok {
		return store.ErrUsernameTaken
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	now := s.now()
	user.ID = newID(user.ID)
	user.Classes = nonNil(user.Classes)
	user.CreatedAt, user.UpdatedAt = now, now
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, user.ID, user.Username, user.UsernameLower, user.FirstName, user.LastName, user.Role, user.Email, user.Birthday,
		user.ClassID, user.ClassDocID, user.ClassName, user.Classes, user.AdvisorID, user.AdvisorName, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == "users_pkey" {
			return model.User{}, store.ErrConflict
		}
		return model.User{}, usernameErr(err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	user, err := scanUser(s.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return user, notFound(err)
}

func (s *Store) GetUserByUsername(ctx context.Context, usernameLower string) (model.User, error) {
	user, err := scanUser(s.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username_lower = $1`, usernameLower))
	return user, notFound(err)
}

func (s *Store) ListUsers(ctx context.Context, filter store.UserFilter) ([]model.User, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND ($2::text[] IS NULL OR id = ANY($2))
		ORDER BY username_lower
	`, filter.Role, filter.IDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, user model.User) (model.User, error) {
	user.Classes = nonNil(user.Classes)
	updated, err := scanUser(s.Pool.QueryRow(ctx, `
		UPDATE users SET
			username = $2, username_lower = $3, first_name = $4, last_name = $5, role = $6, email = $7,
			birthday = $8, class_id = $9, class_doc_id = $10, class_name = $11, classes = $12,
			advisor_id = $13, advisor_name = $14, updated_at = $15
		WHERE id = $1
		RETURNING `+userColumns,
		user.ID, user.Username, user.UsernameLower, user.FirstName, user.LastName, user.Role, user.Email,
		user.Birthday, user.ClassID, user.ClassDocID, user.ClassName, user.Classes,
		user.AdvisorID, user.AdvisorName, s.now()))
	if err != nil {
		return model.User{}, usernameErr(notFound(err))
	}
	return updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return mustAffect(s.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id))
}
