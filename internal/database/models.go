package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet-migrator/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrDeprecationConflict = errors.New("old wallet is already deprecated in favor of another wallet")
	ErrAttestationReplayed = errors.New("attestation was already used")
	ErrNotVerified         = errors.New("old wallet is not KYC verified")
	ErrAlreadyVerified     = errors.New("new wallet is already KYC verified")
)

// KYCVerification is the verification state of one wallet
type KYCVerification struct {
	WalletAddress string       `json:"wallet_address"`
	Verified      bool         `json:"verified"`
	VerifiedAt    sql.NullTime `json:"verified_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// UpsertDeprecation records oldAddress as replaced by rec.NewAddress. Repeating
// the same pair is a no-op except that a missing tx hash is filled in. It
// reports whether a new record was created.
func (s *Store) UpsertDeprecation(ctx context.Context, rec models.DeprecationRecord) (*models.DeprecationRecord, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.TxHashes == nil {
		rec.TxHashes = []string{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin deprecation: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO deprecations (id, user_id, old_address, new_address, tx_hash, tx_hashes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (old_address) DO NOTHING
		RETURNING created_at, updated_at
	`, rec.ID, rec.UserID, rec.OldAddress, rec.NewAddress, rec.TxHash, pq.Array(rec.TxHashes)).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit deprecation: %w", err)
		}
		return &rec, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("insert deprecation: %w", err)
	}

	// Already deprecated: lock the existing row and compare.
	existing, err := scanDeprecation(tx.QueryRowContext(ctx, `
		SELECT id, user_id, old_address, new_address, tx_hash, tx_hashes, created_at, updated_at
		FROM deprecations
		WHERE old_address = $1
		FOR UPDATE
	`, rec.OldAddress))
	if err != nil {
		return nil, false, fmt.Errorf("load deprecation: %w", err)
	}

	if existing.NewAddress != rec.NewAddress {
		return existing, false, fmt.Errorf("%w: %s", ErrDeprecationConflict, existing.NewAddress)
	}

	if existing.TxHash == nil && rec.TxHash != nil {
		err = tx.QueryRowContext(ctx, `
			UPDATE deprecations
			SET tx_hash = $2, tx_hashes = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`, existing.ID, rec.TxHash, pq.Array(rec.TxHashes)).Scan(&existing.UpdatedAt)
		if err != nil {
			return nil, false, fmt.Errorf("update deprecation: %w", err)
		}
		existing.TxHash = rec.TxHash
		existing.TxHashes = rec.TxHashes
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit deprecation: %w", err)
	}
	return existing, false, nil
}

func scanDeprecation(row *sql.Row) (*models.DeprecationRecord, error) {
	var rec models.DeprecationRecord
	var txHash sql.NullString
	err := row.Scan(&rec.ID, &rec.UserID, &rec.OldAddress, &rec.NewAddress, &txHash,
		pq.Array(&rec.TxHashes), &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if txHash.Valid {
		rec.TxHash = &txHash.String
	}
	return &rec, nil
}

// MigrationCompleted reports whether userID has a deprecation record
func (s *Store) MigrationCompleted(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM deprecations WHERE user_id = $1)
	`, userID).Scan(&exists)
	return exists, err
}

// KYCVerified reports the verification state of a wallet. Unknown wallets
// are not verified.
func (s *Store) KYCVerified(ctx context.Context, walletAddress string) (bool, error) {
	var verified bool
	err := s.db.QueryRowContext(ctx, `
		SELECT verified FROM kyc_verifications WHERE wallet_address = $1
	`, walletAddress).Scan(&verified)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return verified, err
}

// MoveKYC re-links a verification from oldAddress to newAddress and spends
// the attestation, in one transaction.
func (s *Store) MoveKYC(ctx context.Context, oldAddress, newAddress string, nonce int64, signature string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin kyc move: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO used_attestations (old_address, new_address, nonce, signature)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (old_address, new_address, nonce) DO NOTHING
	`, oldAddress, newAddress, nonce, signature)
	if err != nil {
		return fmt.Errorf("record attestation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("record attestation: %w", err)
	} else if n == 0 {
		return ErrAttestationReplayed
	}

	var newVerified bool
	err = tx.QueryRowContext(ctx, `
		SELECT verified FROM kyc_verifications WHERE wallet_address = $1 FOR UPDATE
	`, newAddress).Scan(&newVerified)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load new wallet verification: %w", err)
	}
	if newVerified {
		return ErrAlreadyVerified
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM kyc_verifications WHERE wallet_address = $1
	`, newAddress); err != nil {
		return fmt.Errorf("clear new wallet verification: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE kyc_verifications
		SET wallet_address = $2, updated_at = NOW()
		WHERE wallet_address = $1 AND verified
	`, oldAddress, newAddress)
	if err != nil {
		return fmt.Errorf("move verification: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("move verification: %w", err)
	} else if n == 0 {
		return ErrNotVerified
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit kyc move: %w", err)
	}
	return nil
}

// PurgeAttestations deletes spent attestations older than before. Their
// nonces can no longer pass freshness checks.
func (s *Store) PurgeAttestations(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM used_attestations WHERE used_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("purge attestations: %w", err)
	}
	return res.RowsAffected()
}
