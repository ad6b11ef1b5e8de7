package kyc

import (
	"context"

	"wallet-migrator/internal/attestation"
	"wallet-migrator/internal/backend"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Service is the identity backend's KYC surface
type Service interface {
	KYCStatus(ctx context.Context, walletAddress string) (bool, error)
	UpdateWalletAddress(ctx context.Context, req backend.UpdateWalletAddressRequest) (*backend.UpdateWalletAddressResponse, error)
}

// Client re-points a verified KYC record from one wallet to another
type Client struct {
	service Service
	logger  *zerolog.Logger
}

func NewClient(service Service, logger *zerolog.Logger) *Client {
	return &Client{service: service, logger: logger}
}

func (c *Client) IsVerified(ctx context.Context, address common.Address) (bool, error) {
	return c.service.KYCStatus(ctx, address.Hex())
}

// MigrateKYC exchanges the attestation for a KYC address change. Any
// failure is logged and reported as false.
func (c *Client) MigrateKYC(ctx context.Context, oldAddress, newAddress common.Address, att *attestation.Attestation) bool {
	if att == nil {
		c.logger.Error().Msg("KYC migration attempted without an attestation")
		return false
	}

	resp, err := c.service.UpdateWalletAddress(ctx, backend.UpdateWalletAddressRequest{
		OldWalletAddress: oldAddress.Hex(),
		NewWalletAddress: newAddress.Hex(),
		Signature:        att.Signature,
		Nonce:            att.Nonce,
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("oldAddress", oldAddress.Hex()).
			Str("newAddress", newAddress.Hex()).
			Msg("KYC migration request failed")
		return false
	}
	if resp.Status != backend.StatusSuccess {
		c.logger.Error().
			Str("status", resp.Status).
			Str("message", resp.Message).
			Str("oldAddress", oldAddress.Hex()).
			Msg("KYC migration rejected")
		return false
	}

	c.logger.Info().
		Str("oldAddress", oldAddress.Hex()).
		Str("newAddress", newAddress.Hex()).
		Msg("KYC migrated to new wallet")
	return true
}
