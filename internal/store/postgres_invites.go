package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const inviteSelect = `
	SELECT inv.id, inv.user_id, inv.token_hash, inv.invited_by, inv.expires_at, inv.used_at, inv.created_at,
		u.email, u.name
	FROM invites inv
	JOIN users u ON u.id = inv.user_id
`

func scanInvite(row rowScanner) (Invite, error) {
	var invite Invite
	var invitedBy sql.NullString
	var usedAt sql.NullTime
	if err := row.Scan(
		&invite.ID,
		&invite.UserID,
		&invite.TokenHash,
		&invitedBy,
		&invite.ExpiresAt,
		&usedAt,
		&invite.CreatedAt,
		&invite.UserEmail,
		&invite.UserName,
	); err != nil {
		return Invite{}, err
	}
	invite.InvitedBy = stringPtr(invitedBy)
	invite.UsedAt = timePtr(usedAt)
	return invite, nil
}

// CreateInvitedUser inserts an inactive user, its roles and the invite in one transaction.
func (s *PostgresStore) CreateInvitedUser(ctx context.Context, user User, roleNames []string, invite Invite) (User, Invite, error) {
	var createdUser User
	err := s.withTx(ctx, "create invite", func(tx *sql.Tx) error {
		user.IsActive = false
		user.PasswordHash = ""
		var err error
		createdUser, err = insertUser(ctx, tx, user, roleNames)
		if err != nil {
			return err
		}
		invite.ID = newID(invite.ID)
		invite.UserID = createdUser.ID
		invite.UserEmail = createdUser.Email
		invite.UserName = createdUser.Name
		var invitedBy any
		if invite.InvitedBy != nil {
			invitedBy = *invite.InvitedBy
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO invites (id, user_id, token_hash, invited_by, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, invite.ID, invite.UserID, invite.TokenHash, invitedBy, invite.ExpiresAt).Scan(&invite.CreatedAt); err != nil {
			return classify(err, "insert invite")
		}
		return nil
	})
	if err != nil {
		return User{}, Invite{}, err
	}
	return createdUser, invite, nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (Invite, error) {
	invite, err := scanInvite(s.db.QueryRowContext(ctx, inviteSelect+" WHERE inv.id = $1", inviteID))
	if err != nil {
		return Invite{}, classify(err, "get invite")
	}
	return invite, nil
}

func (s *PostgresStore) GetInviteByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	invite, err := scanInvite(s.db.QueryRowContext(ctx, inviteSelect+" WHERE inv.token_hash = $1", tokenHash))
	if err != nil {
		return Invite{}, classify(err, "get invite by token")
	}
	return invite, nil
}

func (s *PostgresStore) ListInvites(ctx context.Context) ([]Invite, error) {
	rows, err := s.db.QueryContext(ctx, inviteSelect+" ORDER BY inv.created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]Invite, 0)
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

// AcceptInvite marks the invite used and activates its user. The invite must be
// unused and unexpired at commit time, otherwise ErrConflict.
func (s *PostgresStore) AcceptInvite(ctx context.Context, inviteID, passwordHash string, now time.Time) (User, error) {
	var user User
	err := s.withTx(ctx, "accept invite", func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx, `
			UPDATE invites SET used_at=$2
			WHERE id=$1 AND used_at IS NULL AND expires_at > $2
			RETURNING user_id
		`, inviteID, now).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("mark invite used: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET password_hash=$2, is_active=TRUE, updated_at=NOW()
			WHERE id=$1
		`, userID, passwordHash); err != nil {
			return fmt.Errorf("activate user: %w", err)
		}
		user, err = s.getUser(ctx, tx, "u.id = $1", userID)
		return err
	})
	return user, err
}

// CancelInvite removes an unused invite together with the pending user it created.
func (s *PostgresStore) CancelInvite(ctx context.Context, inviteID string) error {
	return s.withTx(ctx, "cancel invite", func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx, `
			DELETE FROM invites WHERE id=$1 AND used_at IS NULL
			RETURNING user_id
		`, inviteID).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return classify(err, "delete invite")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1 AND is_active=FALSE`, userID); err != nil {
			return classify(err, "delete pending user")
		}
		return nil
	})
}

// RotateInvite replaces the token of an unused invite and extends its expiry.
func (s *PostgresStore) RotateInvite(ctx context.Context, inviteID, tokenHash string, expiresAt time.Time) (Invite, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invites SET token_hash=$2, expires_at=$3
		WHERE id=$1 AND used_at IS NULL
	`, inviteID, tokenHash, expiresAt)
	if err != nil {
		return Invite{}, classify(err, "rotate invite")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Invite{}, ErrConflict
	}
	return s.GetInvite(ctx, inviteID)
}
