package migration

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid migration step transition")
	ErrNotRetryable      = errors.New("migration step cannot be retried")
	ErrNotCancellable    = errors.New("migration cannot be cancelled while funds are moving")
	ErrAbandoned         = errors.New("migration session was abandoned")
	ErrInvalidAddresses  = errors.New("old and new wallet addresses must be set and differ")
	ErrSnapshotsFrozen   = errors.New("confirmed balance snapshots cannot be replaced")
)

// Step is the single source of truth for where a session is
type Step string

const (
	StepIdle                   Step = "idle"
	StepSigningAttestation     Step = "signing_attestation"
	StepCheckingKYC            Step = "checking_kyc"
	StepMigratingKYC           Step = "migrating_kyc"
	StepAggregatingBalances    Step = "aggregating_balances"
	StepReviewingTransfer      Step = "reviewing_transfer"
	StepTransferringPerNetwork Step = "transferring_per_network"
	StepFinalizingBackend      Step = "finalizing_backend"
	StepSuccess                Step = "success"
	StepFailure                Step = "failure"
	StepAbandoned              Step = "abandoned"
)

func (s Step) String() string {
	return string(s)
}

// Terminal reports whether no further transition is possible.
func (s Step) Terminal() bool {
	return s == StepSuccess || s == StepAbandoned
}

var transitions = map[Step][]Step{
	StepIdle:                   {StepSigningAttestation, StepAbandoned},
	StepSigningAttestation:     {StepCheckingKYC, StepFailure, StepAbandoned},
	StepCheckingKYC:            {StepMigratingKYC, StepAggregatingBalances, StepFailure, StepAbandoned},
	StepMigratingKYC:           {StepAggregatingBalances, StepFailure, StepAbandoned},
	StepAggregatingBalances:    {StepReviewingTransfer, StepFinalizingBackend, StepFailure, StepAbandoned},
	StepReviewingTransfer:      {StepTransferringPerNetwork, StepAggregatingBalances, StepAbandoned},
	StepTransferringPerNetwork: {StepFinalizingBackend, StepFailure},
	StepFinalizingBackend:      {StepSuccess, StepFailure},
	StepFailure: {
		StepSigningAttestation,
		StepCheckingKYC,
		StepAggregatingBalances,
		StepTransferringPerNetwork,
		StepFinalizingBackend,
		StepAbandoned,
	},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Step) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Step) error {
	if from == StepAbandoned {
		return ErrAbandoned
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type FailureKind string

const (
	FailureSigning  FailureKind = "signing"
	FailureKYC      FailureKind = "kyc"
	FailureBalance  FailureKind = "balance"
	FailureTransfer FailureKind = "transfer"
	FailureFinalize FailureKind = "finalize"
)

// RetryAction names the remediation offered for a failure
type RetryAction string

const (
	RetrySigning   RetryAction = "retry_signing"
	RetryKYCCheck  RetryAction = "retry_kyc_check"
	ContactSupport RetryAction = "contact_support"
	RetryBalances  RetryAction = "retry_balances"
	RetryTransfers RetryAction = "retry_transfers"
	RetryFinalize  RetryAction = "retry_finalize"
)

// Failure describes why a session stopped and what the user can do about it
type Failure struct {
	Kind    FailureKind
	Action  RetryAction
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind) + ": " + f.Message
	}
	return string(f.Kind) + ": " + f.Message + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable is false only for failures that need human follow-up.
func (f *Failure) Retryable() bool {
	return f.Action != ContactSupport
}

func failureKind(f *Failure) FailureKind {
	if f == nil {
		return "unknown"
	}
	return f.Kind
}

func newFailure(kind FailureKind, action RetryAction, err error) *Failure {
	return &Failure{Kind: kind, Action: action, Message: failureMessages[action], Err: err}
}

var failureMessages = map[RetryAction]string{
	RetrySigning:   "The signature request was rejected or the signer is unavailable. Sign again to continue.",
	RetryKYCCheck:  "We could not check your identity verification status. Your funds are untouched. Try again.",
	ContactSupport: "We could not move your identity verification to the new wallet. Your funds are untouched. Please contact support.",
	RetryBalances:  "We could not load your balances on any network. Try loading them again.",
	RetryTransfers: "Your wallet could not be used to move funds. Try the transfer again.",
	RetryFinalize:  "We could not record the completed migration. Try finishing again; no funds will be moved twice.",
}
