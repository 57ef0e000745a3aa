package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (s *PostgresStore) withTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start %s transaction: %w", name, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// classify maps driver errors onto the store sentinels.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503":
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case "22P02":
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	out := v.String
	return &out
}

func newID(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}

// Roles

func (s *PostgresStore) EnsureRoles(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO roles (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
		`, uuid.NewString(), name); err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM roles
		ORDER BY array_position(ARRAY['ADMIN', 'RESOURCE_MANAGER', 'RESOURCE'], name)
	`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0, 3)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func roleIDByName(ctx context.Context, q queryer, name string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=$1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("role %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup role %s: %w", name, err)
	}
	return id, nil
}

// Users

const userSelect = `
	SELECT u.id, u.email, u.name, COALESCE(u.password_hash, ''), u.is_active,
		u.active_role_id, COALESCE(ar.name, ''), u.created_at, u.updated_at
	FROM users u
	LEFT JOIN roles ar ON ar.id = u.active_role_id
`

func scanUser(row rowScanner) (User, error) {
	var user User
	var activeRoleID sql.NullString
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsActive,
		&activeRoleID,
		&user.ActiveRole,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	user.ActiveRoleID = stringPtr(activeRoleID)
	return user, nil
}

func userRoles(ctx context.Context, q queryer, userID string) ([]Role, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.id, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY array_position(ARRAY['ADMIN', 'RESOURCE_MANAGER', 'RESOURCE'], r.name)
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0, 3)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) getUser(ctx context.Context, q queryer, where string, arg any) (User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, userSelect+" WHERE "+where, arg))
	if err != nil {
		return User{}, classify(err, "get user")
	}
	roles, err := userRoles(ctx, q, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, s.db, "u.id = $1", userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, s.db, "u.email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, userSelect+" ORDER BY u.created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	index := make(map[string]int)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		index[user.ID] = len(users)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roleRows, err := s.db.QueryContext(ctx, `
		SELECT ur.user_id, r.id, r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		ORDER BY array_position(ARRAY['ADMIN', 'RESOURCE_MANAGER', 'RESOURCE'], r.name)
	`)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var userID string
		var role Role
		if err := roleRows.Scan(&userID, &role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		if i, ok := index[userID]; ok {
			users[i].Roles = append(users[i].Roles, role)
		}
	}
	return users, roleRows.Err()
}

func (s *PostgresStore) CountUsersWithRole(ctx context.Context, roleName string) (int, error) {
	return countRoleHolders(ctx, s.db, roleName)
}

func countRoleHolders(ctx context.Context, q queryer, roleName string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE r.name = $1
	`, roleName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s holders: %w", roleName, err)
	}
	return count, nil
}

// lockRole serialises concurrent changes to the holders of one role.
func lockRole(ctx context.Context, tx *sql.Tx, roleName string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=$1 FOR UPDATE`, roleName).Scan(&id)
	if err != nil {
		return classify(err, "lock role")
	}
	return nil
}

func insertUser(ctx context.Context, tx *sql.Tx, user User, roleNames []string) (User, error) {
	user.ID = newID(user.ID)
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	roles := make([]Role, 0, len(roleNames))
	for _, name := range roleNames {
		id, err := roleIDByName(ctx, tx, name)
		if err != nil {
			return User{}, err
		}
		roles = append(roles, Role{ID: id, Name: name})
	}
	var activeRoleID any
	if len(roles) > 0 {
		activeRoleID = roles[0].ID
		user.ActiveRoleID = &roles[0].ID
		user.ActiveRole = roles[0].Name
	}
	var passwordHash any
	if user.PasswordHash != "" {
		passwordHash = user.PasswordHash
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, is_active, active_role_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.Name, passwordHash, user.IsActive, activeRoleID).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, classify(err, "insert user")
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, user.ID, role.ID); err != nil {
			return User{}, fmt.Errorf("assign role %s: %w", role.Name, err)
		}
	}
	user.Roles = roles
	return user, nil
}

// CreateUser inserts an account with its role assignments; the first role becomes active.
func (s *PostgresStore) CreateUser(ctx context.Context, user User, roleNames []string) (User, error) {
	var created User
	err := s.withTx(ctx, "create user", func(tx *sql.Tx) error {
		var err error
		created, err = insertUser(ctx, tx, user, roleNames)
		return err
	})
	return created, err
}

func (s *PostgresStore) AssignRole(ctx context.Context, userID, roleName string) error {
	return s.withTx(ctx, "assign role", func(tx *sql.Tx) error {
		roleID, err := roleIDByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET updated_at=NOW() WHERE id=$1`, userID)
		if err != nil {
			return classify(err, "touch user")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, userID, roleID); err != nil {
			return fmt.Errorf("insert user role: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET active_role_id=$2 WHERE id=$1 AND active_role_id IS NULL
		`, userID, roleID); err != nil {
			return fmt.Errorf("activate role: %w", err)
		}
		return nil
	})
}

// RemoveRole deletes the assignment and, when it was the active role, moves the
// active role to nextActive (nil clears it).
func (s *PostgresStore) RemoveRole(ctx context.Context, userID, roleName string, nextActive *string) (User, error) {
	var updated User
	err := s.withTx(ctx, "remove role", func(tx *sql.Tx) error {
		if roleName == RoleAdmin {
			if err := lockRole(ctx, tx, RoleAdmin); err != nil {
				return err
			}
		}
		roleID, err := roleIDByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		if roleName == RoleAdmin {
			admins, err := countRoleHolders(ctx, tx, RoleAdmin)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=$1 AND role_id=$2`, userID, roleID)
		if err != nil {
			return classify(err, "delete user role")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		var nextRoleID any
		if nextActive != nil {
			id, err := roleIDByName(ctx, tx, *nextActive)
			if err != nil {
				return err
			}
			nextRoleID = id
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET active_role_id=$3, updated_at=NOW()
			WHERE id=$1 AND active_role_id=$2
		`, userID, roleID, nextRoleID); err != nil {
			return fmt.Errorf("reassign active role: %w", err)
		}
		updated, err = s.getUser(ctx, tx, "u.id = $1", userID)
		return err
	})
	return updated, err
}

func (s *PostgresStore) SetActiveRole(ctx context.Context, userID, roleName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users u SET active_role_id = r.id, updated_at = NOW()
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE u.id = $1 AND r.name = $2 AND ur.user_id = u.id
	`, userID, roleName)
	if err != nil {
		return classify(err, "set active role")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	return s.withTx(ctx, "delete user", func(tx *sql.Tx) error {
		if err := lockRole(ctx, tx, RoleAdmin); err != nil {
			return err
		}
		var isAdmin bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
				WHERE ur.user_id = $1 AND r.name = 'ADMIN'
			)
		`, userID).Scan(&isAdmin); err != nil {
			return classify(err, "check admin")
		}
		if isAdmin {
			admins, err := countRoleHolders(ctx, tx, RoleAdmin)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
		if err != nil {
			return classify(err, "delete user")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Refresh sessions and revoked access tokens

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ConsumeRefreshSession revokes a live refresh session and returns its owner.
// The row lock taken by UPDATE makes concurrent consumers of one token see
// revoked_at already set, so only the first gets a row back.
func (s *PostgresStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = NOW()
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", classify(err, "consume refresh session")
	}
	return userID, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// Companies

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM companies ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	companies := make([]Company, 0)
	for rows.Next() {
		var company Company
		if err := rows.Scan(&company.ID, &company.Name, &company.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		companies = append(companies, company)
	}
	return companies, rows.Err()
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	var company Company
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM companies WHERE id=$1`, companyID).
		Scan(&company.ID, &company.Name, &company.CreatedAt)
	if err != nil {
		return Company{}, classify(err, "get company")
	}
	return company, nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, company Company) (Company, error) {
	company.ID = newID(company.ID)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO companies (id, name) VALUES ($1, $2)
		RETURNING created_at
	`, company.ID, company.Name).Scan(&company.CreatedAt)
	if err != nil {
		return Company{}, classify(err, "create company")
	}
	return company, nil
}

func (s *PostgresStore) DeleteCompany(ctx context.Context, companyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id=$1`, companyID)
	if err != nil {
		return classify(err, "delete company")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Interviews

const interviewSelect = `
	SELECT i.id, i.company_id, c.name, i.title, i.manager_id, i.resource_id, i.scheduled_at, i.created_at
	FROM interviews i
	JOIN companies c ON c.id = i.company_id
`

func scanInterview(row rowScanner) (Interview, error) {
	var interview Interview
	var scheduledAt sql.NullTime
	if err := row.Scan(
		&interview.ID,
		&interview.CompanyID,
		&interview.CompanyName,
		&interview.Title,
		&interview.ManagerID,
		&interview.ResourceID,
		&scheduledAt,
		&interview.CreatedAt,
	); err != nil {
		return Interview{}, err
	}
	interview.ScheduledAt = timePtr(scheduledAt)
	return interview, nil
}

func (s *PostgresStore) CreateInterview(ctx context.Context, interview Interview) (Interview, error) {
	interview.ID = newID(interview.ID)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO interviews (id, company_id, title, manager_id, resource_id, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, interview.ID, interview.CompanyID, interview.Title, interview.ManagerID, interview.ResourceID, nullTime(interview.ScheduledAt)); err != nil {
		return Interview{}, classify(err, "create interview")
	}
	return s.GetInterview(ctx, interview.ID)
}

func (s *PostgresStore) GetInterview(ctx context.Context, interviewID string) (Interview, error) {
	interview, err := scanInterview(s.db.QueryRowContext(ctx, interviewSelect+" WHERE i.id = $1", interviewID))
	if err != nil {
		return Interview{}, classify(err, "get interview")
	}
	return interview, nil
}

func (s *PostgresStore) ListInterviewsByManager(ctx context.Context, managerID string) ([]Interview, error) {
	rows, err := s.db.QueryContext(ctx, interviewSelect+" WHERE i.manager_id = $1 ORDER BY i.created_at DESC", managerID)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	interviews := make([]Interview, 0)
	for rows.Next() {
		interview, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		interviews = append(interviews, interview)
	}
	return interviews, rows.Err()
}
