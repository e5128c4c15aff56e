package auth

import (
	"context"
	"database/sql"
	"errors"

	"firemap.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) Otp(context.Context) OtpStore    { return &otpStore{db: s.db} }
func (s *PGStore) PasswordResets(context.Context) PasswordResetStore {
	return &passwordResetStore{db: s.db}
}
func (s *PGStore) Invites(context.Context) InviteStore { return &inviteStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, email, first_name, last_name, password_hash, role, deactivated, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, first_name, last_name, password_hash, role, deactivated)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, string(u.Role), u.Deactivated,
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&role, &u.Deactivated, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email))
}

func (s *userStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *userStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	return requireRow(res, err)
}

func (s *userStore) SetRole(ctx context.Context, userID string, role Role) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role=$2, updated_at=now() where id=$1`,
		userID, string(role))
	return requireRow(res, err)
}

func (s *userStore) SetDeactivated(ctx context.Context, userID string, deactivated bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set deactivated=$2, updated_at=now() where id=$1`,
		userID, deactivated)
	return requireRow(res, err)
}

// Otp store ----------------------------------------------------------------
type otpStore struct{ db *sql.DB }

func (s *otpStore) Find(ctx context.Context, userID string) (*OtpSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, secret, otp_configured, created_at, updated_at
		 from otp_settings where user_id=$1`, userID)
	var settings OtpSettings
	if err := row.Scan(&settings.UserID, &settings.Secret, &settings.Configured,
		&settings.CreatedAt, &settings.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

func (s *otpStore) Save(ctx context.Context, settings *OtpSettings) error {
	_, err := s.db.ExecContext(ctx,
		`insert into otp_settings(user_id, secret, otp_configured)
		 values($1,$2,$3)
		 on conflict (user_id) do update
		 set secret=excluded.secret, otp_configured=excluded.otp_configured, updated_at=now()`,
		settings.UserID, settings.Secret, settings.Configured)
	return err
}

func (s *otpStore) Delete(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from otp_settings where user_id=$1`, userID)
	return requireRow(res, err)
}

// PasswordReset store --------------------------------------------------------
type passwordResetStore struct{ db *sql.DB }

const resetColumns = `id, reset_type, reset_code, reset_token, expire_date, is_used, created_by_id, for_user_id, created_at, updated_at`

func (s *passwordResetStore) Create(ctx context.Context, reset *PasswordReset) error {
	if reset.ID == "" {
		reset.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into pw_resets(id, reset_type, reset_code, reset_token, expire_date, is_used, created_by_id, for_user_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		reset.ID, string(reset.Type), nullable(reset.Code), nullable(reset.Token),
		reset.ExpireDate, reset.Used, nullable(reset.CreatedByID), reset.ForUserID)
	return err
}

func scanReset(row interface{ Scan(...any) error }) (*PasswordReset, error) {
	var (
		reset           PasswordReset
		typ             string
		code, token, by sql.NullString
	)
	if err := row.Scan(&reset.ID, &typ, &code, &token, &reset.ExpireDate, &reset.Used,
		&by, &reset.ForUserID, &reset.CreatedAt, &reset.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	reset.Type = ResetType(typ)
	reset.Code = code.String
	reset.Token = token.String
	reset.CreatedByID = by.String
	return &reset, nil
}

func (s *passwordResetStore) FindByToken(ctx context.Context, token string) (*PasswordReset, error) {
	return scanReset(s.db.QueryRowContext(ctx,
		`select `+resetColumns+` from pw_resets where reset_token=$1`, token))
}

func (s *passwordResetStore) FindByCode(ctx context.Context, code string) (*PasswordReset, error) {
	return scanReset(s.db.QueryRowContext(ctx,
		`select `+resetColumns+` from pw_resets where reset_code=$1`, code))
}

func (s *passwordResetStore) MarkUsed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update pw_resets set is_used=true, updated_at=now() where id=$1 and is_used=false`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenUsed
	}
	return nil
}

// Invite store ---------------------------------------------------------------
type inviteStore struct{ db *sql.DB }

const inviteColumns = `id, invite_uuid, email, expire_date, is_used, created_by_id, created_at, updated_at`

func (s *inviteStore) Create(ctx context.Context, invite *Invite) error {
	if invite.ID == "" {
		invite.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into invites(id, invite_uuid, email, expire_date, is_used, created_by_id)
		 values($1,$2,$3,$4,$5,$6)`,
		invite.ID, invite.UUID, invite.Email, invite.ExpireDate, invite.Used,
		nullable(invite.CreatedByID))
	return err
}

func scanInvite(row interface{ Scan(...any) error }) (*Invite, error) {
	var (
		invite Invite
		by     sql.NullString
	)
	if err := row.Scan(&invite.ID, &invite.UUID, &invite.Email, &invite.ExpireDate,
		&invite.Used, &by, &invite.CreatedAt, &invite.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	invite.CreatedByID = by.String
	return &invite, nil
}

func (s *inviteStore) FindByUUID(ctx context.Context, uuid string) (*Invite, error) {
	return scanInvite(s.db.QueryRowContext(ctx,
		`select `+inviteColumns+` from invites where invite_uuid=$1`, uuid))
}

func (s *inviteStore) FindActiveByEmail(ctx context.Context, email string) (*Invite, error) {
	return scanInvite(s.db.QueryRowContext(ctx,
		`select `+inviteColumns+` from invites
		 where lower(email)=lower($1) and is_used=false
		 order by created_at desc limit 1`, email))
}

func (s *inviteStore) List(ctx context.Context) ([]*Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+inviteColumns+` from invites order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Invite
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, invite)
	}
	return res, rows.Err()
}

func (s *inviteStore) MarkUsed(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx,
		`update invites set is_used=true, updated_at=now() where invite_uuid=$1 and is_used=false`, uuid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenUsed
	}
	return nil
}

func (s *inviteStore) Delete(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from invites where invite_uuid=$1`, uuid)
	return requireRow(res, err)
}

// helpers --------------------------------------------------------------------

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
