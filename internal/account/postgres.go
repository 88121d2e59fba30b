package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository implements Store on top of database/sql with the pgx
// stdlib driver. Uniqueness and rotation atomicity are pushed to the database:
// unique indexes on email/username/google_id, and single-transaction
// delete-then-insert for rotation.
type PostgresRepository struct {
	db        *sql.DB
	retention time.Duration
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, retention: RefreshTokenRetention}
}

const accountColumns = `
	id, username, email, password_hash, first_name, last_name, avatar,
	role, is_active, is_email_verified, auth_method, google_id, last_login,
	created_at, updated_at
`

func (r *PostgresRepository) Create(ctx context.Context, acct *Account) error {
	if err := Validate(acct, PreSavePipeline()...); err != nil {
		return err
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, username, email, password_hash, first_name, last_name, avatar,
			role, is_active, is_email_verified, auth_method, google_id, last_login,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`,
		acct.ID,
		nullIfEmpty(acct.Username),
		acct.Email,
		nullIfEmpty(acct.PasswordHash),
		acct.FirstName,
		acct.LastName,
		acct.Avatar,
		acct.Role,
		acct.Active,
		acct.EmailVerified,
		acct.AuthMethod,
		nullIfEmpty(acct.GoogleID),
		acct.LastLogin,
		now,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	return r.queryOne(ctx, `SELECT`+accountColumns+`FROM accounts WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.queryOne(ctx, `SELECT`+accountColumns+`FROM accounts WHERE email = $1`, email)
}

func (r *PostgresRepository) FindByEmailOrUsername(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	return r.queryOne(ctx, `
		SELECT`+accountColumns+`
		FROM accounts
		WHERE email = LOWER($1) OR username = $1
	`, identifier)
}

func (r *PostgresRepository) FindByGoogleID(ctx context.Context, googleID string) (*Account, error) {
	return r.queryOne(ctx, `SELECT`+accountColumns+`FROM accounts WHERE google_id = $1`, googleID)
}

func (r *PostgresRepository) UpdateFields(ctx context.Context, id string, fields Fields) (*Account, error) {
	if fields.Empty() {
		return r.FindByID(ctx, id)
	}

	set := make([]string, 0, 9)
	args := make([]any, 0, 10)
	args = append(args, id)

	appendSet := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Username != nil {
		appendSet("username", nullIfEmpty(*fields.Username))
	}
	if fields.FirstName != nil {
		appendSet("first_name", *fields.FirstName)
	}
	if fields.LastName != nil {
		appendSet("last_name", *fields.LastName)
	}
	if fields.Avatar != nil {
		appendSet("avatar", *fields.Avatar)
	}
	if fields.PasswordHash != nil {
		appendSet("password_hash", *fields.PasswordHash)
	}
	if fields.LastLogin != nil {
		appendSet("last_login", fields.LastLogin.UTC())
	}
	if fields.Active != nil {
		appendSet("is_active", *fields.Active)
	}
	if fields.EmailVerified != nil {
		appendSet("is_email_verified", *fields.EmailVerified)
	}
	appendSet("updated_at", time.Now().UTC())

	query := `
		UPDATE accounts
		SET ` + strings.Join(set, ", ") + `
		WHERE id = $1
		RETURNING` + accountColumns

	acct, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if dup := mapUniqueViolation(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("update account fields: %w", err)
	}

	return acct, nil
}

func (r *PostgresRepository) AppendRefreshToken(ctx context.Context, id, tokenHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh append tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertRefreshToken(ctx, tx, id, tokenHash); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh append tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RemoveRefreshToken(ctx context.Context, id, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM account_refresh_tokens
		WHERE account_id = $1 AND token_hash = $2
	`, id, tokenHash)
	if err != nil {
		return fmt.Errorf("remove refresh token: %w", err)
	}

	return nil
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, oldHash, newHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refresh rotation tx: %w", err)
	}
	defer tx.Rollback()

	// The DELETE is the compare-and-swap: under concurrent rotations of the
	// same token, only one transaction sees the row.
	var deleted string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM account_refresh_tokens
		WHERE account_id = $1 AND token_hash = $2
		RETURNING token_hash
	`, id, oldHash).Scan(&deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("consume refresh token: %w", err)
	}

	if err := insertRefreshToken(ctx, tx, id, newHash); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refresh rotation tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) FindByRefreshToken(ctx context.Context, tokenHash string) (*Account, error) {
	cutoff := time.Now().UTC().Add(-r.retention)
	return r.queryOne(ctx, `
		SELECT`+accountColumns+`
		FROM accounts
		WHERE id = (
			SELECT account_id
			FROM account_refresh_tokens
			WHERE token_hash = $1 AND created_at > $2
		)
	`, tokenHash, cutoff)
}

func (r *PostgresRepository) PurgeRefreshTokens(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM account_refresh_tokens
		WHERE account_id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("purge refresh tokens: %w", err)
	}

	return nil
}

// DeleteStaleRefreshTokens removes references past the retention window in
// bounded batches. Used by the maintenance endpoint.
func (r *PostgresRepository) DeleteStaleRefreshTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT token_hash
			FROM account_refresh_tokens
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM account_refresh_tokens t
		USING stale
		WHERE t.token_hash = stale.token_hash
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func insertRefreshToken(ctx context.Context, tx *sql.Tx, id, tokenHash string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_refresh_tokens (account_id, token_hash, created_at)
		VALUES ($1, $2, $3)
	`, id, tokenHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	// Evict everything beyond the newest MaxRefreshTokens references.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM account_refresh_tokens
		WHERE account_id = $1 AND token_hash NOT IN (
			SELECT token_hash
			FROM account_refresh_tokens
			WHERE account_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`, id, MaxRefreshTokens)
	if err != nil {
		return fmt.Errorf("evict old refresh tokens: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*Account, error) {
	acct, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}

	return acct, nil
}

func scanAccount(row rowScanner) (*Account, error) {
	var acct Account
	var username, passwordHash, googleID sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(
		&acct.ID,
		&username,
		&acct.Email,
		&passwordHash,
		&acct.FirstName,
		&acct.LastName,
		&acct.Avatar,
		&acct.Role,
		&acct.Active,
		&acct.EmailVerified,
		&acct.AuthMethod,
		&googleID,
		&lastLogin,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acct.Username = username.String
	acct.PasswordHash = passwordHash.String
	acct.GoogleID = googleID.String
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		acct.LastLogin = &value
	}

	return &acct, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}

	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return ErrDuplicateEmail
	case strings.Contains(pgErr.ConstraintName, "username"):
		return ErrDuplicateUsername
	case strings.Contains(pgErr.ConstraintName, "google"):
		return ErrDuplicateGoogleID
	default:
		return fmt.Errorf("unique constraint %s violated: %w", pgErr.ConstraintName, err)
	}
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
