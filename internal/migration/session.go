package migration

import (
	"sync"
	"time"

	"wallet-migrator/internal/attestation"
	"wallet-migrator/internal/balances"
	"wallet-migrator/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Session is one user's in-memory migration. All fields are guarded by mu;
// read them through the accessors.
type Session struct {
	ID         uuid.UUID
	UserID     string
	OldAddress common.Address
	NewAddress common.Address
	CreatedAt  time.Time

	mu          sync.RWMutex
	step        Step
	failure     *Failure
	attestation *attestation.Attestation
	kycMigrated bool
	snapshots   []models.BalanceSnapshot
	frozen      bool
	batches     map[models.NetworkName]models.TransferBatch
	batchOrder  []models.NetworkName
	skipped     []models.NetworkName
	updatedAt   time.Time
}

func (s *Session) Step() Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// Failure returns the current failure, or nil outside the Failure step.
func (s *Session) Failure() *Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.step != StepFailure {
		return nil
	}
	return s.failure
}

// Cancellable is false while funds may be moving or a transfer outcome is
// not yet recorded by the backend.
func (s *Session) Cancellable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancellableLocked()
}

func (s *Session) cancellableLocked() bool {
	switch s.step {
	case StepTransferringPerNetwork, StepFinalizingBackend, StepSuccess, StepAbandoned:
		return false
	case StepFailure:
		return len(s.batches) == 0
	default:
		return true
	}
}

func (s *Session) KYCMigrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kycMigrated
}

func (s *Session) Attestation() *attestation.Attestation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.attestation == nil {
		return nil
	}
	att := *s.attestation
	return &att
}

// Snapshots returns a deep copy of the balances under review.
func (s *Session) Snapshots() []models.BalanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return balances.CloneAll(s.snapshots)
}

// Frozen reports whether the reviewed balances were confirmed for transfer.
func (s *Session) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Batches returns the latest batch per network, in first-submission order.
func (s *Session) Batches() []models.TransferBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransferBatch, 0, len(s.batchOrder))
	for _, n := range s.batchOrder {
		out = append(out, s.batches[n])
	}
	return out
}

func (s *Session) Skipped() []models.NetworkName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.NetworkName(nil), s.skipped...)
}

// TxHashes returns the transaction hashes of confirmed batches.
func (s *Session) TxHashes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txHashesLocked()
}

func (s *Session) txHashesLocked() []string {
	hashes := []string{}
	for _, n := range s.batchOrder {
		if b := s.batches[n]; b.Confirmed() && b.TxHash != "" {
			hashes = append(hashes, b.TxHash)
		}
	}
	return hashes
}

// FailedNetworks lists networks whose latest batch did not confirm.
func (s *Session) FailedNetworks() []models.NetworkName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.NetworkName
	for _, n := range s.batchOrder {
		if !s.batches[n].Confirmed() {
			out = append(out, n)
		}
	}
	return out
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// replaceSnapshots stores deep copies of snapshots for review. Snapshots
// confirmed for transfer are never replaced.
func (s *Session) replaceSnapshots(snapshots []models.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrSnapshotsFrozen
	}
	s.snapshots = balances.CloneAll(snapshots)
	return nil
}

// pendingTransfers returns reviewed snapshots with funds and no confirmed batch.
func (s *Session) pendingTransfers() []models.BalanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BalanceSnapshot
	for _, snap := range s.snapshots {
		if !snap.HasFunds() {
			continue
		}
		if b, ok := s.batches[snap.Network]; ok && b.Confirmed() {
			continue
		}
		out = append(out, snap.Clone())
	}
	return out
}

func (s *Session) recordBatches(batches []models.TransferBatch, skipped []models.NetworkName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range batches {
		if _, seen := s.batches[b.Network]; !seen {
			s.batchOrder = append(s.batchOrder, b.Network)
		}
		s.batches[b.Network] = b
	}
	if s.skipped == nil {
		s.skipped = skipped
	}
}
