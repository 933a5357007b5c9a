package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"restaurant-verify/internal/bucketing"
	"restaurant-verify/internal/hashing"
	"restaurant-verify/internal/model"
	"restaurant-verify/internal/ratelimit"
	"restaurant-verify/internal/util"
)

// ChallengeRepository persists verification challenges and executes
// the attempt state machine. Both Issue and AttemptVerify serialize on
// a per-phone advisory lock so concurrent requests for one number see
// a consistent quota snapshot and attempt counter.
type ChallengeRepository interface {
	Issue(ctx context.Context, row *model.VerificationCode) error
	AttemptVerify(ctx context.Context, phoneE164, codeAttempt, identifier string) (*AttemptResult, error)
	LatestForPhone(ctx context.Context, phoneE164 string) (*model.VerificationCode, error)
	RecentForPhone(ctx context.Context, phoneE164 string, limit int) ([]model.VerificationCode, error)
	DeleteRetired(ctx context.Context, retention time.Duration) (int64, error)
	HealthCheck(ctx context.Context) error
}

// AttemptResult is the outcome of one verify attempt, after the
// increment and compare have been committed.
type AttemptResult struct {
	Matched     bool
	Attempts    int
	LockedUntil *time.Time
	Row         *model.VerificationCode
}

type challengeRepository struct {
	client    *PGClient
	bucketMgr *bucketing.Manager
}

func NewChallengeRepository(client *PGClient, bucketMgr *bucketing.Manager) ChallengeRepository {
	return &challengeRepository{
		client:    client,
		bucketMgr: bucketMgr,
	}
}

const challengeColumns = `id, identifier, code, phone_raw, phone_e164, place_id, session_id,
	restaurant_name, ip_address, channel, attempts, verified, locked_until, expires_at, created_at`

// Issue evaluates the layered quotas and inserts the challenge row in
// one transaction. The insert happens before any telephony dispatch,
// so a failed delivery still counts against the caller's quota.
func (r *challengeRepository) Issue(ctx context.Context, row *model.VerificationCode) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if err := r.lockPhone(ctx, tx, row.PhoneE164); err != nil {
		return err
	}

	snap, err := r.snapshot(ctx, tx, row.PhoneE164, row.IPAddress, now)
	if err != nil {
		return err
	}
	if err := ratelimit.Evaluate(now, snap); err != nil {
		return err
	}

	row.Attempts = 0
	row.Verified = false
	row.CreatedAt = now
	row.ExpiresAt = now.Add(model.CodeTTL)

	err = tx.QueryRow(ctx, `
		INSERT INTO verification_codes
			(identifier, code, phone_raw, phone_e164, place_id, session_id,
			 restaurant_name, ip_address, channel, attempts, verified, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		row.Identifier, row.Code, row.PhoneRaw, row.PhoneE164, row.PlaceID, row.SessionID,
		row.RestaurantName, row.IPAddress, row.Channel, row.Attempts, row.Verified,
		row.ExpiresAt, row.CreatedAt,
	).Scan(&row.ID)
	if err != nil {
		return fmt.Errorf("failed to insert challenge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit challenge: %w", err)
	}
	return nil
}

// AttemptVerify runs the attempt state machine on the target row. The
// increment and the compare share one transaction and one row lock, so
// two concurrent attempts cannot both observe the same counter. When
// identifier is non-empty the row is selected by exact identifier,
// otherwise by the most recent active row for the phone.
func (r *challengeRepository) AttemptVerify(ctx context.Context, phoneE164, codeAttempt, identifier string) (*AttemptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	tx, err := r.client.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if err := r.lockPhone(ctx, tx, phoneE164); err != nil {
		return nil, err
	}

	var activeLock *time.Time
	err = tx.QueryRow(ctx, `
		SELECT max(locked_until) FROM verification_codes
		WHERE phone_e164 = $1 AND locked_until > $2`,
		phoneE164, now,
	).Scan(&activeLock)
	if err != nil {
		return nil, fmt.Errorf("failed to check lockout: %w", err)
	}
	if activeLock != nil {
		return nil, &model.PhoneLockedError{Until: *activeLock}
	}

	row, err := r.selectTarget(ctx, tx, phoneE164, identifier, now)
	if err != nil {
		return nil, err
	}

	if row.Attempts >= model.MaxAttempts {
		// Should be unreachable given the selection filter; retire the
		// row anyway rather than trust the filter.
		lockedUntil := now.Add(model.LockoutDuration)
		if _, err := tx.Exec(ctx, `
			UPDATE verification_codes
			SET attempts = attempts + 1, locked_until = $2, verified = true
			WHERE id = $1`,
			row.ID, lockedUntil,
		); err != nil {
			return nil, fmt.Errorf("failed to retire exhausted challenge: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit lockout: %w", err)
		}
		return nil, &model.PhoneLockedError{Until: lockedUntil}
	}

	matched := hashing.ConstantTimeEquals(codeAttempt, row.Code)
	newAttempts := row.Attempts + 1

	result := &AttemptResult{
		Matched:  matched,
		Attempts: newAttempts,
		Row:      row,
	}

	switch {
	case matched:
		_, err = tx.Exec(ctx, `
			UPDATE verification_codes
			SET attempts = $2, verified = true
			WHERE id = $1`,
			row.ID, newAttempts,
		)
	case newAttempts >= model.MaxAttempts:
		lockedUntil := now.Add(model.LockoutDuration)
		result.LockedUntil = &lockedUntil
		_, err = tx.Exec(ctx, `
			UPDATE verification_codes
			SET attempts = $2, locked_until = $3, verified = true
			WHERE id = $1`,
			row.ID, newAttempts, lockedUntil,
		)
	default:
		_, err = tx.Exec(ctx, `
			UPDATE verification_codes
			SET attempts = $2
			WHERE id = $1`,
			row.ID, newAttempts,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit attempt: %w", err)
	}

	row.Attempts = newAttempts
	row.Verified = matched || result.LockedUntil != nil
	row.LockedUntil = result.LockedUntil
	return result, nil
}

func (r *challengeRepository) LatestForPhone(ctx context.Context, phoneE164 string) (*model.VerificationCode, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	row, err := scanChallenge(r.client.Pool().QueryRow(ctx, `
		SELECT `+challengeColumns+`
		FROM verification_codes
		WHERE phone_e164 = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		phoneE164,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest challenge: %w", err)
	}
	return row, nil
}

func (r *challengeRepository) RecentForPhone(ctx context.Context, phoneE164 string, limit int) ([]model.VerificationCode, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	rows, err := r.client.Pool().Query(ctx, `
		SELECT `+challengeColumns+`
		FROM verification_codes
		WHERE phone_e164 = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		phoneE164, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent challenges: %w", err)
	}
	defer rows.Close()

	var result []model.VerificationCode
	for rows.Next() {
		row, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

// DeleteRetired removes verified rows whose expiry is older than the
// retention window. Retention must cover the rate-limit windows, or
// deletion would hand quota back early; the caller enforces that.
func (r *challengeRepository) DeleteRetired(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	tag, err := r.client.Pool().Exec(ctx, `
		DELETE FROM verification_codes
		WHERE verified = true AND expires_at < $1
		  AND (locked_until IS NULL OR locked_until < $1)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete retired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *challengeRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// lockPhone takes the transaction-scoped advisory lock that serializes
// all issuance and verification for one phone number.
func (r *challengeRepository) lockPhone(ctx context.Context, tx pgx.Tx, phoneE164 string) error {
	key := r.bucketMgr.AdvisoryKey(phoneE164)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("failed to acquire phone lock: %w", err)
	}
	return nil
}

// snapshot reads the quota state for one phone and IP, under the
// advisory lock and in the same transaction as the insert that follows.
func (r *challengeRepository) snapshot(ctx context.Context, tx pgx.Tx, phoneE164, ipAddress string, now time.Time) (ratelimit.Snapshot, error) {
	var snap ratelimit.Snapshot

	err := tx.QueryRow(ctx, `
		SELECT count(*), min(created_at)
		FROM verification_codes
		WHERE phone_e164 = $1 AND created_at > $2`,
		phoneE164, now.Add(-ratelimit.PhoneWindow),
	).Scan(&snap.PhoneCount, &snap.OldestPhoneIssue)
	if err != nil {
		return snap, fmt.Errorf("failed to read phone quota: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT count(*), min(created_at)
		FROM verification_codes
		WHERE ip_address = $1 AND created_at > $2`,
		ipAddress, now.Add(-ratelimit.IPWindow),
	).Scan(&snap.IPCount, &snap.OldestIPIssue)
	if err != nil {
		return snap, fmt.Errorf("failed to read ip quota: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT max(created_at), max(locked_until)
		FROM verification_codes
		WHERE phone_e164 = $1`,
		phoneE164,
	).Scan(&snap.LastPhoneIssue, &snap.LockedUntil)
	if err != nil {
		return snap, fmt.Errorf("failed to read phone history: %w", err)
	}

	return snap, nil
}

// selectTarget locks the row the attempt will run against. An exact
// identifier match may surface a non-active row; that still reads as
// no active challenge to the caller.
func (r *challengeRepository) selectTarget(ctx context.Context, tx pgx.Tx, phoneE164, identifier string, now time.Time) (*model.VerificationCode, error) {
	var row *model.VerificationCode
	var err error

	if identifier != "" {
		row, err = scanChallenge(tx.QueryRow(ctx, `
			SELECT `+challengeColumns+`
			FROM verification_codes
			WHERE identifier = $1 AND phone_e164 = $2
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE`,
			identifier, phoneE164,
		))
	} else {
		row, err = scanChallenge(tx.QueryRow(ctx, `
			SELECT `+challengeColumns+`
			FROM verification_codes
			WHERE phone_e164 = $1
			  AND verified = false
			  AND expires_at > $2
			  AND attempts < $3
			  AND (locked_until IS NULL OR locked_until <= $2)
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE`,
			phoneE164, now, model.MaxAttempts,
		))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNoActiveChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select challenge: %w", err)
	}

	if identifier != "" {
		switch row.State(now) {
		case model.StateActive:
		case model.StateExhaustedLocked:
			// Handled by the caller's defensive branch.
		default:
			util.Debug("Identifier matched a retired challenge",
				zap.String("state", string(row.State(now))),
			)
			return nil, model.ErrNoActiveChallenge
		}
	}

	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(s rowScanner) (*model.VerificationCode, error) {
	var row model.VerificationCode
	err := s.Scan(
		&row.ID, &row.Identifier, &row.Code, &row.PhoneRaw, &row.PhoneE164,
		&row.PlaceID, &row.SessionID, &row.RestaurantName, &row.IPAddress,
		&row.Channel, &row.Attempts, &row.Verified, &row.LockedUntil,
		&row.ExpiresAt, &row.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}
