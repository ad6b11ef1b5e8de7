package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"wallet-migrator/internal/attestation"
	"wallet-migrator/internal/backend"
	"wallet-migrator/internal/database"
	"wallet-migrator/internal/health"
	"wallet-migrator/internal/models"
	"wallet-migrator/internal/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
)

// Store is the system of record behind the API
type Store interface {
	UpsertDeprecation(ctx context.Context, rec models.DeprecationRecord) (*models.DeprecationRecord, bool, error)
	MigrationCompleted(ctx context.Context, userID string) (bool, error)
	KYCVerified(ctx context.Context, walletAddress string) (bool, error)
	MoveKYC(ctx context.Context, oldAddress, newAddress string, nonce int64, signature string) error
}

// Archiver keeps an external copy of new deprecation records
type Archiver interface {
	Put(ctx context.Context, rec *models.DeprecationRecord) error
}

type Handler struct {
	store       Store
	archive     Archiver
	nonceBucket time.Duration
	logger      *zerolog.Logger
	now         func() time.Time
}

// NewHandler creates the API handler. archive may be nil.
func NewHandler(store Store, archive Archiver, nonceBucket time.Duration, logger *zerolog.Logger) *Handler {
	return &Handler{
		store:       store,
		archive:     archive,
		nonceBucket: nonceBucket,
		logger:      logger,
		now:         time.Now,
	}
}

// SetupRoutes mounts health probes without auth and the migration API
// behind the service token.
func SetupRoutes(app *fiber.App, h *Handler, serviceToken string, checker *health.Checker) {
	if checker != nil {
		app.Get("/healthz", adaptor.HTTPHandlerFunc(checker.LivenessHandler))
		app.Get("/readyz", adaptor.HTTPHandlerFunc(checker.ReadinessHandler))
	}

	app.Use(RequestLogger(h.logger))
	secured := app.Group("/", ServiceAuth(serviceToken, h.logger))

	secured.Get(backend.PathMigrationStatus, h.MigrationStatus)
	secured.Post(backend.PathDeprecate, h.Deprecate)
	secured.Get(backend.PathKYCStatus, h.KYCStatus)
	secured.Post(backend.PathUpdateWalletAddress, h.UpdateWalletAddress)
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(backend.ErrorResponse{Error: msg})
}

// checksum validates and normalizes an address
func checksum(address string) (string, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return "", err
	}
	return common.HexToAddress(address).Hex(), nil
}

func (h *Handler) MigrationStatus(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if err := validation.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	completed, err := h.store.MigrationCompleted(c.UserContext(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("userId", userID).Msg("Failed to load migration status")
		return fail(c, fiber.StatusInternalServerError, "failed to load migration status")
	}
	return c.JSON(backend.MigrationStatusResponse{MigrationCompleted: completed})
}

func (h *Handler) Deprecate(c *fiber.Ctx) error {
	var req backend.DeprecateRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	oldAddress, err := checksum(req.OldAddress)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "oldAddress: "+err.Error())
	}
	newAddress, err := checksum(req.NewAddress)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "newAddress: "+err.Error())
	}
	if oldAddress == newAddress {
		return fail(c, fiber.StatusBadRequest, "oldAddress and newAddress must differ")
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if !strings.EqualFold(c.Get(backend.HeaderWalletAddress), newAddress) {
		return fail(c, fiber.StatusForbidden, backend.HeaderWalletAddress+" must be the new wallet")
	}

	txHashes := []string{}
	for _, hash := range req.TxHashes {
		if err := validation.ValidateTxHash(hash); err != nil {
			return fail(c, fiber.StatusBadRequest, "txHashes: "+err.Error())
		}
		txHashes = append(txHashes, hash)
	}
	if req.TxHash != nil {
		if err := validation.ValidateTxHash(*req.TxHash); err != nil {
			return fail(c, fiber.StatusBadRequest, "txHash: "+err.Error())
		}
		if len(txHashes) == 0 {
			txHashes = []string{*req.TxHash}
		}
	}

	rec, created, err := h.store.UpsertDeprecation(c.UserContext(), models.DeprecationRecord{
		UserID:     req.UserID,
		OldAddress: oldAddress,
		NewAddress: newAddress,
		TxHash:     req.TxHash,
		TxHashes:   txHashes,
	})
	if errors.Is(err, database.ErrDeprecationConflict) {
		return fail(c, fiber.StatusConflict, err.Error())
	}
	if err != nil {
		h.logger.Error().Err(err).Str("oldAddress", oldAddress).Msg("Failed to record deprecation")
		return fail(c, fiber.StatusInternalServerError, "failed to record deprecation")
	}

	h.logger.Info().
		Str("userId", rec.UserID).
		Str("oldAddress", rec.OldAddress).
		Str("newAddress", rec.NewAddress).
		Bool("created", created).
		Msg("Wallet deprecated")

	if created && h.archive != nil {
		go h.archiveRecord(rec)
	}
	return c.JSON(backend.DeprecateResponse{Success: true, Created: created})
}

func (h *Handler) archiveRecord(rec *models.DeprecationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.archive.Put(ctx, rec); err != nil {
		h.logger.Warn().Err(err).Str("oldAddress", rec.OldAddress).Msg("Failed to archive deprecation")
	}
}

func (h *Handler) KYCStatus(c *fiber.Ctx) error {
	address, err := checksum(c.Query("walletAddress"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "walletAddress: "+err.Error())
	}

	verified, err := h.store.KYCVerified(c.UserContext(), address)
	if err != nil {
		h.logger.Error().Err(err).Str("walletAddress", address).Msg("Failed to load KYC status")
		return fail(c, fiber.StatusInternalServerError, "failed to load KYC status")
	}
	return c.JSON(backend.KYCStatusResponse{Verified: verified})
}

func (h *Handler) UpdateWalletAddress(c *fiber.Ctx) error {
	var req backend.UpdateWalletAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	oldAddress, err := checksum(req.OldWalletAddress)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "oldWalletAddress: "+err.Error())
	}
	newAddress, err := checksum(req.NewWalletAddress)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "newWalletAddress: "+err.Error())
	}
	if err := validation.ValidateSignature(req.Signature); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if !strings.EqualFold(c.Get(backend.HeaderWalletAddress), newAddress) {
		return fail(c, fiber.StatusForbidden, backend.HeaderWalletAddress+" must be the new wallet")
	}

	err = attestation.Verify(common.HexToAddress(oldAddress), common.HexToAddress(newAddress), req.Nonce, req.Signature, h.now(), h.nonceBucket)
	switch {
	case errors.Is(err, attestation.ErrSignerMismatch):
		return fail(c, fiber.StatusForbidden, err.Error())
	case err != nil:
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	err = h.store.MoveKYC(c.UserContext(), oldAddress, newAddress, req.Nonce, req.Signature)
	switch {
	case errors.Is(err, database.ErrAttestationReplayed), errors.Is(err, database.ErrAlreadyVerified):
		return fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, database.ErrNotVerified):
		return fail(c, fiber.StatusUnprocessableEntity, err.Error())
	case err != nil:
		h.logger.Error().Err(err).Str("oldAddress", oldAddress).Msg("Failed to move KYC verification")
		return fail(c, fiber.StatusInternalServerError, "failed to move KYC verification")
	}

	h.logger.Info().
		Str("oldAddress", oldAddress).
		Str("newAddress", newAddress).
		Msg("KYC verification moved")
	return c.JSON(backend.UpdateWalletAddressResponse{Status: backend.StatusSuccess})
}
