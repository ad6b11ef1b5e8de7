package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultBucket is the nonce granularity.
const DefaultBucket = 5 * time.Minute

var (
	ErrSigningFailed  = errors.New("attestation signing failed")
	ErrStaleNonce     = errors.New("attestation nonce is stale or from the future")
	ErrSignerMismatch = errors.New("attestation was not signed by the new wallet")
	ErrMalformed      = errors.New("malformed attestation")
)

// Attestation binds an old wallet to a new wallet
type Attestation struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Nonce     int64  `json:"nonce"`
}

// NewNonce truncates now to the start of its bucket, in unix seconds.
func NewNonce(now time.Time, bucket time.Duration) int64 {
	size := bucketSeconds(bucket)
	ts := now.Unix()
	return ts - ts%size
}

// Message is the exact text signed by the new wallet and rebuilt by the
// server. Addresses are rendered in checksum form.
func Message(oldAddress, newAddress common.Address, nonce int64) string {
	return fmt.Sprintf(
		"Wallet migration\n\nI authorize linking my verified identity from wallet %s to wallet %s.\n\nNonce: %d",
		oldAddress.Hex(), newAddress.Hex(), nonce,
	)
}

// Signer produces attestations with the new wallet's key
type Signer struct {
	key    interfaces.MessageSigner
	bucket time.Duration
	now    func() time.Time
}

func NewSigner(key interfaces.MessageSigner, bucket time.Duration) *Signer {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return &Signer{key: key, bucket: bucket, now: time.Now}
}

func (s *Signer) SignLinkAttestation(ctx context.Context, oldAddress, newAddress common.Address) (*Attestation, error) {
	if s.key == nil {
		return nil, fmt.Errorf("%w: no signer available", ErrSigningFailed)
	}
	if s.key.Address() != newAddress {
		return nil, fmt.Errorf("%w: signer %s is not the new wallet %s", ErrSigningFailed, s.key.Address().Hex(), newAddress.Hex())
	}

	nonce := NewNonce(s.now(), s.bucket)
	message := Message(oldAddress, newAddress, nonce)

	sig, err := s.key.SignMessage(ctx, []byte(message))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	return &Attestation{
		Message:   message,
		Signature: hexutil.Encode(sig),
		Nonce:     nonce,
	}, nil
}

// Verify checks that signature is the new wallet's signature over the link
// message for nonce, and that nonce is the current or previous bucket.
func Verify(oldAddress, newAddress common.Address, nonce int64, signature string, now time.Time, bucket time.Duration) error {
	size := bucketSeconds(bucket)
	current := NewNonce(now, bucket)
	if nonce%size != 0 || (nonce != current && nonce != current-size) {
		return ErrStaleNonce
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	signer, err := wallet.RecoverSigner([]byte(Message(oldAddress, newAddress, nonce)), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if signer != newAddress {
		return ErrSignerMismatch
	}
	return nil
}

func bucketSeconds(bucket time.Duration) int64 {
	size := int64(bucket / time.Second)
	if size <= 0 {
		size = int64(DefaultBucket / time.Second)
	}
	return size
}
