package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-migrator/internal/attestation"
	"wallet-migrator/internal/balances"
	"wallet-migrator/internal/interfaces"
	"wallet-migrator/internal/models"
	"wallet-migrator/internal/transfer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type BalanceFetcher interface {
	FetchAllNetworkBalances(ctx context.Context, address common.Address) []models.BalanceSnapshot
}

type AttestationSigner interface {
	SignLinkAttestation(ctx context.Context, oldAddress, newAddress common.Address) (*attestation.Attestation, error)
}

type KYCMigrator interface {
	IsVerified(ctx context.Context, address common.Address) (bool, error)
	MigrateKYC(ctx context.Context, oldAddress, newAddress common.Address, att *attestation.Attestation) bool
}

type Transferrer interface {
	TransferAll(ctx context.Context, snapshots []models.BalanceSnapshot, oldAddress, newAddress common.Address) (*transfer.Result, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, userID string, oldAddress, newAddress common.Address, txHashes []string) error
}

// StatusInvalidator drops cached migration status after finalization
type StatusInvalidator interface {
	Invalidate(userID string)
}

// Dependencies are the collaborators an Orchestrator sequences
type Dependencies struct {
	Balances    BalanceFetcher
	Signer      AttestationSigner
	KYC         KYCMigrator
	Transfers   Transferrer
	Finalizer   Finalizer
	Status      StatusInvalidator
	Events      interfaces.EventEmitter
	NonceBucket time.Duration
}

// Orchestrator drives sessions through the migration state machine
type Orchestrator struct {
	deps   Dependencies
	logger *zerolog.Logger
	now    func() time.Time
}

func NewOrchestrator(deps Dependencies, logger *zerolog.Logger) *Orchestrator {
	if deps.NonceBucket <= 0 {
		deps.NonceBucket = attestation.DefaultBucket
	}
	return &Orchestrator{deps: deps, logger: logger, now: time.Now}
}

// NewSession creates an Idle session. Nothing runs until Approve.
func (o *Orchestrator) NewSession(userID string, oldAddress, newAddress common.Address) (*Session, error) {
	if oldAddress == (common.Address{}) || newAddress == (common.Address{}) || oldAddress == newAddress {
		return nil, ErrInvalidAddresses
	}
	now := o.now()
	s := &Session{
		ID:         uuid.New(),
		UserID:     userID,
		OldAddress: oldAddress,
		NewAddress: newAddress,
		CreatedAt:  now,
		step:       StepIdle,
		batches:    make(map[models.NetworkName]models.TransferBatch),
		updatedAt:  now,
	}
	o.emit(context.Background(), s, StepIdle, nil)
	return s, nil
}

// Approve is the user's go-ahead and only starts an Idle session. It runs
// until the session needs the user again: ReviewingTransfer, Success or
// Failure. A failed session resumes through Retry.
func (o *Orchestrator) Approve(ctx context.Context, s *Session) error {
	err := o.transitionIf(ctx, s, StepSigningAttestation, func(s *Session) error {
		if s.step != StepIdle {
			return fmt.Errorf("%w: approve in %s", ErrInvalidTransition, s.step)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return o.runFrom(ctx, s, StepSigningAttestation)
}

// RefreshBalances replaces the snapshots under review with a fresh fetch.
// Outside review it is only allowed after a balance failure; confirmed
// snapshots are never replaced.
func (o *Orchestrator) RefreshBalances(ctx context.Context, s *Session) error {
	err := o.transitionIf(ctx, s, StepAggregatingBalances, func(s *Session) error {
		if s.frozen {
			return ErrSnapshotsFrozen
		}
		if s.step == StepFailure && (s.failure == nil || s.failure.Action != RetryBalances) {
			return fmt.Errorf("%w: refresh after %s failure", ErrNotRetryable, failureKind(s.failure))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return o.runFrom(ctx, s, StepAggregatingBalances)
}

// ConfirmTransfer freezes the reviewed snapshots, moves funds and finalizes.
func (o *Orchestrator) ConfirmTransfer(ctx context.Context, s *Session) error {
	err := o.transitionIf(ctx, s, StepTransferringPerNetwork, func(s *Session) error {
		if s.step != StepReviewingTransfer {
			return fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, s.step)
		}
		s.frozen = true
		return nil
	})
	if err != nil {
		return err
	}
	return o.runFrom(ctx, s, StepTransferringPerNetwork)
}

// Retry re-enters only the step that failed.
func (o *Orchestrator) Retry(ctx context.Context, s *Session) error {
	s.mu.RLock()
	step, failure := s.step, s.failure
	s.mu.RUnlock()

	if step != StepFailure || failure == nil {
		return fmt.Errorf("%w: session is %s", ErrNotRetryable, step)
	}

	var next Step
	switch failure.Action {
	case RetrySigning:
		next = StepSigningAttestation
	case RetryKYCCheck:
		next = StepCheckingKYC
		if !o.attestationFresh(s) {
			next = StepSigningAttestation
		}
	case RetryBalances:
		next = StepAggregatingBalances
	case RetryTransfers:
		next = StepTransferringPerNetwork
	case RetryFinalize:
		next = StepFinalizingBackend
	default:
		return fmt.Errorf("%w: %s", ErrNotRetryable, failure.Action)
	}

	if err := o.transition(ctx, s, next); err != nil {
		return err
	}
	return o.runFrom(ctx, s, next)
}

// Abandon ends the session. It is refused while transfers run or once
// funds moved without the backend recording it.
func (o *Orchestrator) Abandon(s *Session) error {
	s.mu.Lock()
	if !s.cancellableLocked() {
		step := s.step
		s.mu.Unlock()
		if step.Terminal() {
			return fmt.Errorf("%w: session is %s", ErrInvalidTransition, step)
		}
		return ErrNotCancellable
	}
	s.mu.Unlock()
	return o.transition(context.Background(), s, StepAbandoned)
}

// runFrom executes steps starting at step, which the session has just
// entered, until user input is needed or a terminal state is reached.
func (o *Orchestrator) runFrom(ctx context.Context, s *Session, step Step) error {
	for {
		next, err := o.runStep(ctx, s, step)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if err := o.transition(ctx, s, next); err != nil {
			return err
		}
		if next == StepReviewingTransfer || next == StepSuccess {
			return nil
		}
		step = next
	}
}

// runStep performs the work of step and returns the step to enter next.
// A failure is recorded on the session and ends the run without an error.
func (o *Orchestrator) runStep(ctx context.Context, s *Session, step Step) (Step, error) {
	switch step {
	case StepSigningAttestation:
		return o.sign(ctx, s)
	case StepCheckingKYC:
		return o.checkKYC(ctx, s)
	case StepMigratingKYC:
		return o.migrateKYC(ctx, s)
	case StepAggregatingBalances:
		return o.aggregate(ctx, s)
	case StepTransferringPerNetwork:
		// Funds are moving: no caller cancellation from here on.
		return o.transferAll(context.WithoutCancel(ctx), s)
	case StepFinalizingBackend:
		return o.finalize(context.WithoutCancel(ctx), s)
	}
	return "", fmt.Errorf("%w: nothing to run in %s", ErrInvalidTransition, step)
}

func (o *Orchestrator) sign(ctx context.Context, s *Session) (Step, error) {
	att, err := o.deps.Signer.SignLinkAttestation(ctx, s.OldAddress, s.NewAddress)
	if err != nil {
		return "", o.fail(ctx, s, newFailure(FailureSigning, RetrySigning, err))
	}
	s.mu.Lock()
	s.attestation = att
	s.mu.Unlock()
	return StepCheckingKYC, nil
}

func (o *Orchestrator) checkKYC(ctx context.Context, s *Session) (Step, error) {
	var oldVerified, newVerified bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := o.deps.KYC.IsVerified(gctx, s.OldAddress)
		if err != nil {
			return fmt.Errorf("old wallet KYC status: %w", err)
		}
		oldVerified = v
		return nil
	})
	g.Go(func() error {
		v, err := o.deps.KYC.IsVerified(gctx, s.NewAddress)
		if err != nil {
			return fmt.Errorf("new wallet KYC status: %w", err)
		}
		newVerified = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", o.fail(ctx, s, newFailure(FailureKYC, RetryKYCCheck, err))
	}

	o.logger.Info().
		Str("sessionId", s.ID.String()).
		Bool("oldVerified", oldVerified).
		Bool("newVerified", newVerified).
		Msg("Checked KYC status")

	if oldVerified && !newVerified {
		return StepMigratingKYC, nil
	}
	return StepAggregatingBalances, nil
}

func (o *Orchestrator) migrateKYC(ctx context.Context, s *Session) (Step, error) {
	att := s.Attestation()
	if !o.deps.KYC.MigrateKYC(ctx, s.OldAddress, s.NewAddress, att) {
		return "", o.fail(ctx, s, newFailure(FailureKYC, ContactSupport, errors.New("KYC migration rejected")))
	}
	s.mu.Lock()
	s.kycMigrated = true
	s.mu.Unlock()
	return StepAggregatingBalances, nil
}

func (o *Orchestrator) aggregate(ctx context.Context, s *Session) (Step, error) {
	snapshots := o.deps.Balances.FetchAllNetworkBalances(ctx, s.OldAddress)
	if len(snapshots) == 0 || balances.AllFailed(snapshots) {
		err := errors.New("balance fetch failed on every network")
		if len(snapshots) > 0 {
			err = fmt.Errorf("%s: %w", err, snapshots[0].Err)
		}
		return "", o.fail(ctx, s, newFailure(FailureBalance, RetryBalances, err))
	}

	if err := s.replaceSnapshots(snapshots); err != nil {
		return "", err
	}

	if len(balances.WithFunds(snapshots)) == 0 && !balances.AnyFailed(snapshots) {
		o.logger.Info().
			Str("sessionId", s.ID.String()).
			Msg("Nothing to transfer, deprecating wallet only")
		return StepFinalizingBackend, nil
	}
	return StepReviewingTransfer, nil
}

func (o *Orchestrator) transferAll(ctx context.Context, s *Session) (Step, error) {
	pending := s.pendingTransfers()
	result, err := o.deps.Transfers.TransferAll(ctx, pending, s.OldAddress, s.NewAddress)
	if err != nil {
		return "", o.fail(ctx, s, newFailure(FailureTransfer, RetryTransfers, err))
	}
	s.recordBatches(result.Batches, result.Skipped)

	for _, b := range result.Failed() {
		o.logger.Warn().
			Err(b.Err).
			Str("sessionId", s.ID.String()).
			Str("network", b.Network.String()).
			Msg("Network transfer did not confirm")
	}
	return StepFinalizingBackend, nil
}

func (o *Orchestrator) finalize(ctx context.Context, s *Session) (Step, error) {
	if err := o.deps.Finalizer.Finalize(ctx, s.UserID, s.OldAddress, s.NewAddress, s.TxHashes()); err != nil {
		return "", o.fail(ctx, s, newFailure(FailureFinalize, RetryFinalize, err))
	}
	if o.deps.Status != nil {
		o.deps.Status.Invalidate(s.UserID)
	}
	return StepSuccess, nil
}

func (o *Orchestrator) attestationFresh(s *Session) bool {
	att := s.Attestation()
	if att == nil {
		return false
	}
	current := attestation.NewNonce(o.now(), o.deps.NonceBucket)
	return att.Nonce >= current-int64(o.deps.NonceBucket/time.Second)
}

// fail moves the session to Failure. The returned error is non-nil only if
// the transition itself is not allowed.
func (o *Orchestrator) fail(ctx context.Context, s *Session, f *Failure) error {
	s.mu.Lock()
	if err := checkTransition(s.step, StepFailure); err != nil {
		s.mu.Unlock()
		return err
	}
	from := s.step
	s.step = StepFailure
	s.failure = f
	s.updatedAt = o.now()
	s.mu.Unlock()

	o.logger.Error().
		Err(f.Err).
		Str("sessionId", s.ID.String()).
		Str("step", from.String()).
		Str("kind", string(f.Kind)).
		Str("action", string(f.Action)).
		Msg("Migration step failed")
	o.emit(ctx, s, StepFailure, f)
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, s *Session, to Step) error {
	return o.transitionIf(ctx, s, to, nil)
}

// transitionIf moves the session to to when the transition table and guard
// both allow it. guard runs under the session lock.
func (o *Orchestrator) transitionIf(ctx context.Context, s *Session, to Step, guard func(*Session) error) error {
	s.mu.Lock()
	if err := checkTransition(s.step, to); err != nil {
		s.mu.Unlock()
		return err
	}
	if guard != nil {
		if err := guard(s); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	from := s.step
	s.step = to
	if from == StepFailure {
		s.failure = nil
	}
	s.updatedAt = o.now()
	s.mu.Unlock()

	o.logger.Info().
		Str("sessionId", s.ID.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Migration step changed")
	o.emit(ctx, s, to, nil)
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, s *Session, step Step, f *Failure) {
	if o.deps.Events == nil {
		return
	}
	event := models.MigrationEvent{
		SessionID:  s.ID.String(),
		UserID:     s.UserID,
		OldAddress: s.OldAddress.Hex(),
		NewAddress: s.NewAddress.Hex(),
		Step:       step.String(),
		TxHashes:   s.TxHashes(),
		Timestamp:  o.now(),
	}
	if f != nil {
		event.FailureKind = string(f.Kind)
		if f.Err != nil {
			event.Error = f.Err.Error()
		}
	}
	// Tracking is best effort; the emitter bounds and swallows its own errors.
	_ = o.deps.Events.EmitEvent(context.WithoutCancel(ctx), event)
}
