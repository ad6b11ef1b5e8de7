package migration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wallet-migrator/internal/attestation"
	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/models"
	"wallet-migrator/internal/transfer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	oldAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	newAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdc    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

type MockBalances struct{ mock.Mock }

func (m *MockBalances) FetchAllNetworkBalances(ctx context.Context, address common.Address) []models.BalanceSnapshot {
	return m.Called(ctx, address).Get(0).([]models.BalanceSnapshot)
}

type MockSigner struct{ mock.Mock }

func (m *MockSigner) SignLinkAttestation(ctx context.Context, oldAddress, newAddress common.Address) (*attestation.Attestation, error) {
	args := m.Called(ctx, oldAddress, newAddress)
	if att := args.Get(0); att != nil {
		return att.(*attestation.Attestation), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockKYC struct{ mock.Mock }

func (m *MockKYC) IsVerified(ctx context.Context, address common.Address) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *MockKYC) MigrateKYC(ctx context.Context, oldAddress, newAddress common.Address, att *attestation.Attestation) bool {
	return m.Called(ctx, oldAddress, newAddress, att).Bool(0)
}

type MockTransfers struct{ mock.Mock }

func (m *MockTransfers) TransferAll(ctx context.Context, snapshots []models.BalanceSnapshot, oldAddress, newAddress common.Address) (*transfer.Result, error) {
	args := m.Called(ctx, snapshots, oldAddress, newAddress)
	if r := args.Get(0); r != nil {
		return r.(*transfer.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockFinalizer struct{ mock.Mock }

func (m *MockFinalizer) Finalize(ctx context.Context, userID string, oldAddress, newAddress common.Address, txHashes []string) error {
	return m.Called(ctx, userID, oldAddress, newAddress, txHashes).Error(0)
}

type MockStatus struct{ mock.Mock }

func (m *MockStatus) Invalidate(userID string) {
	m.Called(userID)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.MigrationEvent
	ctxs   []context.Context
}

func (r *recordingEmitter) EmitEvent(ctx context.Context, event models.MigrationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.ctxs = append(r.ctxs, ctx)
	return nil
}

func (r *recordingEmitter) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Step)
	}
	return out
}

type harness struct {
	balances  *MockBalances
	signer    *MockSigner
	kyc       *MockKYC
	transfers *MockTransfers
	finalizer *MockFinalizer
	status    *MockStatus
	events    *recordingEmitter
	clock     time.Time
	orch      *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		balances:  &MockBalances{},
		signer:    &MockSigner{},
		kyc:       &MockKYC{},
		transfers: &MockTransfers{},
		finalizer: &MockFinalizer{},
		status:    &MockStatus{},
		events:    &recordingEmitter{},
		clock:     time.Unix(1_700_000_000, 0),
	}
	h.orch = NewOrchestrator(Dependencies{
		Balances:  h.balances,
		Signer:    h.signer,
		KYC:       h.kyc,
		Transfers: h.transfers,
		Finalizer: h.finalizer,
		Status:    h.status,
		Events:    h.events,
	}, logger.Nop())
	h.orch.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) signs() {
	nonce := attestation.NewNonce(h.clock, attestation.DefaultBucket)
	h.signer.On("SignLinkAttestation", mock.Anything, oldAddr, newAddr).Return(&attestation.Attestation{
		Message:   attestation.Message(oldAddr, newAddr, nonce),
		Signature: "0x01",
		Nonce:     nonce,
	}, nil)
}

func (h *harness) kycStatus(oldVerified, newVerified bool) {
	h.kyc.On("IsVerified", mock.Anything, oldAddr).Return(oldVerified, nil)
	h.kyc.On("IsVerified", mock.Anything, newAddr).Return(newVerified, nil)
}

func (h *harness) session(t *testing.T) *Session {
	s, err := h.orch.NewSession("user-1", oldAddr, newAddr)
	require.NoError(t, err)
	return s
}

func snapshot(network models.NetworkName, amount string) models.BalanceSnapshot {
	amt := decimal.RequireFromString(amount)
	return models.BalanceSnapshot{
		Network: network,
		Address: oldAddr,
		Balances: map[string]models.TokenBalance{
			"USDC": {Token: models.Token{Symbol: "USDC", Address: usdc}, Decimals: 6, Amount: amt},
		},
		Total: amt,
	}
}

func failed(network models.NetworkName) models.BalanceSnapshot {
	return models.BalanceSnapshot{Network: network, Address: oldAddr, Err: errors.New("rpc down")}
}

func sixNetworks(funded map[models.NetworkName]string) []models.BalanceSnapshot {
	out := make([]models.BalanceSnapshot, 0, len(models.AllNetworks))
	for _, n := range models.AllNetworks {
		amount, ok := funded[n]
		if !ok {
			amount = "0"
		}
		out = append(out, snapshot(n, amount))
	}
	return out
}

func confirmed(network models.NetworkName, txHash string) models.TransferBatch {
	return models.TransferBatch{Network: network, TxHash: txHash, Status: models.BatchConfirmed}
}

func TestNewSession_RejectsBadAddresses(t *testing.T) {
	h := newHarness()

	_, err := h.orch.NewSession("user-1", oldAddr, oldAddr)
	assert.ErrorIs(t, err, ErrInvalidAddresses)

	_, err = h.orch.NewSession("user-1", common.Address{}, newAddr)
	assert.ErrorIs(t, err, ErrInvalidAddresses)
}

func TestApprove_BaseUSDCFullFlow(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(true, false)
	h.kyc.On("MigrateKYC", mock.Anything, oldAddr, newAddr, mock.AnythingOfType("*attestation.Attestation")).Return(true).Once()
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()
	h.transfers.On("TransferAll", mock.Anything, mock.MatchedBy(func(snaps []models.BalanceSnapshot) bool {
		return len(snaps) == 1 && snaps[0].Network == models.Base
	}), oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{confirmed(models.Base, "0xabc")},
	}, nil).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{"0xabc"}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	assert.Equal(t, StepReviewingTransfer, s.Step())
	assert.True(t, s.KYCMigrated())
	assert.True(t, s.Cancellable())
	require.Len(t, s.Snapshots(), 6)

	require.NoError(t, h.orch.ConfirmTransfer(context.Background(), s))
	assert.Equal(t, StepSuccess, s.Step())
	assert.True(t, s.Frozen())
	assert.Equal(t, []string{"0xabc"}, s.TxHashes())
	assert.False(t, s.Cancellable())

	assert.Equal(t, []string{
		"idle",
		"signing_attestation",
		"checking_kyc",
		"migrating_kyc",
		"aggregating_balances",
		"reviewing_transfer",
		"transferring_per_network",
		"finalizing_backend",
		"success",
	}, h.events.steps())

	h.kyc.AssertExpectations(t)
	h.transfers.AssertExpectations(t)
	h.finalizer.AssertExpectations(t)
	h.status.AssertExpectations(t)
}

func TestApprove_ZeroBalanceSkipsTransfer(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(true, true)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).Return(sixNetworks(nil)).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	assert.Equal(t, StepSuccess, s.Step())
	assert.False(t, s.KYCMigrated())
	h.kyc.AssertNotCalled(t, "MigrateKYC", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.transfers.AssertNotCalled(t, "TransferAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.finalizer.AssertExpectations(t)
	assert.NotContains(t, h.events.steps(), "reviewing_transfer")
}

func TestApprove_PartialFailuresStillReview(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)

	snaps := sixNetworks(map[models.NetworkName]string{models.Base: "100"})
	snaps[2] = failed(snaps[2].Network)
	snaps[5] = failed(snaps[5].Network)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).Return(snaps).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	assert.Equal(t, StepReviewingTransfer, s.Step())
	got := s.Snapshots()
	require.Len(t, got, 6)
	assert.Error(t, got[2].Err)
	assert.Error(t, got[5].Err)
	assert.Equal(t, "100", got[1].Balances["USDC"].Amount.String())
}

func TestApprove_NoFundsButFailedNetworksNeedsReview(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)

	snaps := sixNetworks(nil)
	snaps[0] = failed(snaps[0].Network)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).Return(snaps).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	assert.Equal(t, StepReviewingTransfer, s.Step())
	h.finalizer.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_AllNetworksFailed(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)

	snaps := make([]models.BalanceSnapshot, 0, len(models.AllNetworks))
	for _, n := range models.AllNetworks {
		snaps = append(snaps, failed(n))
	}
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).Return(snaps).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	require.Equal(t, StepFailure, s.Step())
	assert.Equal(t, FailureBalance, s.Failure().Kind)
	assert.Equal(t, RetryBalances, s.Failure().Action)
}

func TestConfirmTransfer_AllTransfersFailStillFinalizes(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100", models.Celo: "5"})).Once()
	h.transfers.On("TransferAll", mock.Anything, mock.Anything, oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{
			{Network: models.Base, Status: models.BatchFailed, Err: errors.New("paymaster refused")},
			{Network: models.Celo, Status: models.BatchFailed, Err: errors.New("reverted")},
		},
	}, nil).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.NoError(t, h.orch.ConfirmTransfer(context.Background(), s))

	assert.Equal(t, StepSuccess, s.Step())
	assert.Empty(t, s.TxHashes())
	assert.Equal(t, []models.NetworkName{models.Base, models.Celo}, s.FailedNetworks())
	h.finalizer.AssertExpectations(t)
}

func TestConfirmTransfer_IgnoresCallerCancellation(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "1"})).Once()
	notCancelled := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	h.transfers.On("TransferAll", notCancelled, mock.Anything, oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{confirmed(models.Base, "0x1")},
	}, nil).Once()
	h.finalizer.On("Finalize", notCancelled, "user-1", oldAddr, newAddr, []string{"0x1"}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.orch.ConfirmTransfer(ctx, s))
	assert.Equal(t, StepSuccess, s.Step())
	h.transfers.AssertExpectations(t)
}

func TestApprove_KYCLookupFailureBeforeAnyTransfer(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kyc.On("IsVerified", mock.Anything, oldAddr).Return(false, errors.New("backend down")).Once()
	h.kyc.On("IsVerified", mock.Anything, newAddr).Return(false, nil).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	require.Equal(t, StepFailure, s.Step())
	f := s.Failure()
	assert.Equal(t, FailureKYC, f.Kind)
	assert.Equal(t, RetryKYCCheck, f.Action)
	assert.True(t, f.Retryable())
	assert.True(t, s.Cancellable())
	h.balances.AssertNotCalled(t, "FetchAllNetworkBalances", mock.Anything, mock.Anything)
	h.transfers.AssertNotCalled(t, "TransferAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, "failure", last.Step)
	assert.Equal(t, "kyc", last.FailureKind)
	assert.Contains(t, last.Error, "backend down")
}

func TestRetry_KYCCheckDoesNotResign(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kyc.On("IsVerified", mock.Anything, oldAddr).Return(false, errors.New("backend down")).Once()
	h.kyc.On("IsVerified", mock.Anything, newAddr).Return(false, nil).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.Equal(t, StepFailure, s.Step())

	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "3"})).Once()

	require.NoError(t, h.orch.Retry(context.Background(), s))
	assert.Equal(t, StepReviewingTransfer, s.Step())
	assert.Nil(t, s.Failure())
	h.signer.AssertNumberOfCalls(t, "SignLinkAttestation", 1)
}

func TestRetry_KYCCheckResignsStaleAttestation(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kyc.On("IsVerified", mock.Anything, oldAddr).Return(false, errors.New("backend down")).Once()
	h.kyc.On("IsVerified", mock.Anything, newAddr).Return(false, nil).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.Equal(t, StepFailure, s.Step())

	h.clock = h.clock.Add(11 * time.Minute)
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).Return(sixNetworks(nil)).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	require.NoError(t, h.orch.Retry(context.Background(), s))
	assert.Equal(t, StepSuccess, s.Step())
	h.signer.AssertNumberOfCalls(t, "SignLinkAttestation", 2)
}

func TestRetry_KYCMigrationNeedsSupport(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(true, false)
	h.kyc.On("MigrateKYC", mock.Anything, oldAddr, newAddr, mock.Anything).Return(false).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	require.Equal(t, StepFailure, s.Step())
	assert.Equal(t, ContactSupport, s.Failure().Action)
	assert.False(t, s.Failure().Retryable())
	assert.ErrorIs(t, h.orch.Retry(context.Background(), s), ErrNotRetryable)
	h.balances.AssertNotCalled(t, "FetchAllNetworkBalances", mock.Anything, mock.Anything)

	require.NoError(t, h.orch.Abandon(s))
	assert.Equal(t, StepAbandoned, s.Step())
}

func TestApprove_SigningRejected(t *testing.T) {
	h := newHarness()
	h.signer.On("SignLinkAttestation", mock.Anything, oldAddr, newAddr).Return(nil, attestation.ErrSigningFailed).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	require.Equal(t, StepFailure, s.Step())
	assert.Equal(t, RetrySigning, s.Failure().Action)
	assert.ErrorIs(t, s.Failure(), attestation.ErrSigningFailed)
	h.kyc.AssertNotCalled(t, "IsVerified", mock.Anything, mock.Anything)
}

func TestRetry_TransfersOnlyUnconfirmedNetworks(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100", models.Polygon: "7"})).Once()
	h.transfers.On("TransferAll", mock.Anything, mock.Anything, oldAddr, newAddr).
		Return(nil, transfer.ErrWalletUnavailable).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.NoError(t, h.orch.ConfirmTransfer(context.Background(), s))
	require.Equal(t, StepFailure, s.Step())
	assert.Equal(t, RetryTransfers, s.Failure().Action)
	assert.True(t, s.Cancellable())

	// Base confirmed on an earlier attempt, so only Polygon is retried.
	s.recordBatches([]models.TransferBatch{confirmed(models.Base, "0xbase")}, nil)
	assert.False(t, s.Cancellable())

	h.transfers.On("TransferAll", mock.Anything, mock.MatchedBy(func(snaps []models.BalanceSnapshot) bool {
		return len(snaps) == 1 && snaps[0].Network == models.Polygon
	}), oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{confirmed(models.Polygon, "0xpoly")},
	}, nil).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{"0xbase", "0xpoly"}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	require.NoError(t, h.orch.Retry(context.Background(), s))
	assert.Equal(t, StepSuccess, s.Step())
	h.finalizer.AssertExpectations(t)
}

func TestRetry_FinalizeDoesNotMoveFundsAgain(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()
	h.transfers.On("TransferAll", mock.Anything, mock.Anything, oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{confirmed(models.Base, "0xabc")},
	}, nil).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{"0xabc"}).
		Return(errors.New("backend unavailable")).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.NoError(t, h.orch.ConfirmTransfer(context.Background(), s))

	require.Equal(t, StepFailure, s.Step())
	assert.Equal(t, FailureFinalize, s.Failure().Kind)
	assert.False(t, s.Cancellable())
	assert.ErrorIs(t, h.orch.Abandon(s), ErrNotCancellable)

	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{"0xabc"}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	require.NoError(t, h.orch.Retry(context.Background(), s))
	assert.Equal(t, StepSuccess, s.Step())
	h.transfers.AssertNumberOfCalls(t, "TransferAll", 1)
	h.finalizer.AssertNumberOfCalls(t, "Finalize", 2)
}

func TestRefreshBalances_ReplacesSnapshots(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "40", models.Optimism: "2"})).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.NoError(t, h.orch.RefreshBalances(context.Background(), s))

	assert.Equal(t, StepReviewingTransfer, s.Step())
	snaps := s.Snapshots()
	assert.Equal(t, "40", snaps[1].Balances["USDC"].Amount.String())
	assert.Equal(t, "2", snaps[3].Balances["USDC"].Amount.String())
}

func TestSnapshots_AreDeepCopies(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))

	snaps := s.Snapshots()
	snaps[1].Balances["USDC"] = models.TokenBalance{Amount: decimal.Zero}
	assert.Equal(t, "100", s.Snapshots()[1].Balances["USDC"].Amount.String())
}

func TestAbandon(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.NoError(t, h.orch.Abandon(s))

	assert.Equal(t, StepAbandoned, s.Step())
	assert.False(t, s.Cancellable())
	assert.ErrorIs(t, h.orch.ConfirmTransfer(context.Background(), s), ErrAbandoned)
	assert.ErrorIs(t, h.orch.Approve(context.Background(), s), ErrAbandoned)
	assert.ErrorIs(t, h.orch.Abandon(s), ErrInvalidTransition)
	h.transfers.AssertNotCalled(t, "TransferAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOperationsOutOfOrder(t *testing.T) {
	h := newHarness()
	s := h.session(t)

	assert.ErrorIs(t, h.orch.ConfirmTransfer(context.Background(), s), ErrInvalidTransition)
	assert.ErrorIs(t, h.orch.RefreshBalances(context.Background(), s), ErrInvalidTransition)
	assert.ErrorIs(t, h.orch.Retry(context.Background(), s), ErrNotRetryable)
	assert.Equal(t, StepIdle, s.Step())
}

func TestApprove_OnlyStartsIdleSessions(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(true, false)
	h.kyc.On("MigrateKYC", mock.Anything, oldAddr, newAddr, mock.Anything).Return(false).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.Equal(t, ContactSupport, s.Failure().Action)

	assert.ErrorIs(t, h.orch.Approve(context.Background(), s), ErrInvalidTransition)
	assert.Equal(t, StepFailure, s.Step())
	assert.Equal(t, ContactSupport, s.Failure().Action)
	h.signer.AssertNumberOfCalls(t, "SignLinkAttestation", 1)
	h.kyc.AssertNumberOfCalls(t, "MigrateKYC", 1)
}

func TestApprove_RefusedDuringReview(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.Equal(t, StepReviewingTransfer, s.Step())

	assert.ErrorIs(t, h.orch.Approve(context.Background(), s), ErrInvalidTransition)
	assert.Equal(t, StepReviewingTransfer, s.Step())
	h.signer.AssertNumberOfCalls(t, "SignLinkAttestation", 1)
}

func TestRefreshBalances_RefusedOnceFundsMoved(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "100"})).Once()
	h.transfers.On("TransferAll", mock.Anything, mock.Anything, oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{confirmed(models.Base, "0xabc")},
	}, nil).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{"0xabc"}).
		Return(errors.New("backend unavailable")).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.NoError(t, h.orch.ConfirmTransfer(context.Background(), s))
	require.Equal(t, RetryFinalize, s.Failure().Action)
	require.True(t, s.Frozen())

	assert.ErrorIs(t, h.orch.RefreshBalances(context.Background(), s), ErrSnapshotsFrozen)
	assert.Equal(t, StepFailure, s.Step())
	assert.Equal(t, RetryFinalize, s.Failure().Action)
	assert.Equal(t, "100", s.Snapshots()[1].Balances["USDC"].Amount.String())
	h.balances.AssertNumberOfCalls(t, "FetchAllNetworkBalances", 1)
}

func TestRefreshBalances_RefusedAfterKYCFailure(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kyc.On("IsVerified", mock.Anything, oldAddr).Return(false, errors.New("backend down"))
	h.kyc.On("IsVerified", mock.Anything, newAddr).Return(false, nil)

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.Equal(t, RetryKYCCheck, s.Failure().Action)

	assert.ErrorIs(t, h.orch.RefreshBalances(context.Background(), s), ErrNotRetryable)
	assert.Equal(t, StepFailure, s.Step())
	h.balances.AssertNotCalled(t, "FetchAllNetworkBalances", mock.Anything, mock.Anything)
}

func TestRefreshBalances_RecoversFromBalanceFailure(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)

	down := make([]models.BalanceSnapshot, 0, len(models.AllNetworks))
	for _, n := range models.AllNetworks {
		down = append(down, failed(n))
	}
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).Return(down).Once()
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "12"})).Once()

	s := h.session(t)
	require.NoError(t, h.orch.Approve(context.Background(), s))
	require.Equal(t, RetryBalances, s.Failure().Action)

	require.NoError(t, h.orch.RefreshBalances(context.Background(), s))
	assert.Equal(t, StepReviewingTransfer, s.Step())
	assert.Nil(t, s.Failure())
	assert.Equal(t, "12", s.Snapshots()[1].Balances["USDC"].Amount.String())
	h.signer.AssertNumberOfCalls(t, "SignLinkAttestation", 1)
}

func TestReplaceSnapshots_RefusedWhenFrozen(t *testing.T) {
	h := newHarness()
	s := h.session(t)

	require.NoError(t, s.replaceSnapshots(sixNetworks(map[models.NetworkName]string{models.Base: "100"})))
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()

	assert.ErrorIs(t, s.replaceSnapshots(sixNetworks(nil)), ErrSnapshotsFrozen)
	assert.Equal(t, "100", s.Snapshots()[1].Balances["USDC"].Amount.String())
}

type traceKey struct{}

func TestEvents_CarryCallerContextValues(t *testing.T) {
	h := newHarness()
	h.signs()
	h.kycStatus(false, false)
	h.balances.On("FetchAllNetworkBalances", mock.Anything, oldAddr).
		Return(sixNetworks(map[models.NetworkName]string{models.Base: "1"})).Once()
	h.transfers.On("TransferAll", mock.Anything, mock.Anything, oldAddr, newAddr).Return(&transfer.Result{
		Batches: []models.TransferBatch{confirmed(models.Base, "0x1")},
	}, nil).Once()
	h.finalizer.On("Finalize", mock.Anything, "user-1", oldAddr, newAddr, []string{"0x1"}).Return(nil).Once()
	h.status.On("Invalidate", "user-1").Once()

	s := h.session(t)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), traceKey{}, "trace-1"))
	require.NoError(t, h.orch.Approve(ctx, s))
	cancel()
	require.NoError(t, h.orch.ConfirmTransfer(ctx, s))
	require.Equal(t, StepSuccess, s.Step())

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	// The first event is the Idle one emitted by NewSession.
	require.Greater(t, len(h.events.ctxs), 1)
	for i, c := range h.events.ctxs[1:] {
		assert.Equal(t, "trace-1", c.Value(traceKey{}), "event %d", i+1)
		assert.NoError(t, c.Err(), "event %d", i+1)
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Step }{
		{StepIdle, StepSigningAttestation},
		{StepCheckingKYC, StepMigratingKYC},
		{StepCheckingKYC, StepAggregatingBalances},
		{StepAggregatingBalances, StepFinalizingBackend},
		{StepReviewingTransfer, StepAggregatingBalances},
		{StepTransferringPerNetwork, StepFinalizingBackend},
		{StepFailure, StepTransferringPerNetwork},
		{StepFinalizingBackend, StepSuccess},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to Step }{
		{StepIdle, StepTransferringPerNetwork},
		{StepReviewingTransfer, StepFinalizingBackend},
		{StepTransferringPerNetwork, StepAbandoned},
		{StepFinalizingBackend, StepAbandoned},
		{StepSuccess, StepFailure},
		{StepAbandoned, StepIdle},
		{StepFailure, StepMigratingKYC},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.ErrorIs(t, checkTransition(StepAbandoned, StepIdle), ErrAbandoned)
	assert.True(t, StepSuccess.Terminal())
	assert.False(t, StepFailure.Terminal())
}
