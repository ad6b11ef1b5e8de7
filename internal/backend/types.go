package backend

// Wire types shared by the HTTP client and the reference API.

const (
	PathMigrationStatus     = "/api/v1/migration-status"
	PathDeprecate           = "/api/v1/wallets/deprecate"
	PathKYCStatus           = "/api/v1/kyc-status"
	PathUpdateWalletAddress = "/api/v1/kyc/update-wallet-address"

	// HeaderWalletAddress carries the acting (new) wallet address.
	HeaderWalletAddress = "X-Wallet-Address"

	StatusSuccess = "success"
)

type MigrationStatusResponse struct {
	MigrationCompleted bool `json:"migrationCompleted"`
}

type DeprecateRequest struct {
	OldAddress string   `json:"oldAddress"`
	NewAddress string   `json:"newAddress"`
	TxHash     *string  `json:"txHash"`
	TxHashes   []string `json:"txHashes"`
	UserID     string   `json:"userId"`
}

type DeprecateResponse struct {
	Success bool `json:"success"`
	// Created is false when the call matched an existing record.
	Created bool `json:"created"`
}

type KYCStatusResponse struct {
	Verified bool `json:"verified"`
}

type UpdateWalletAddressRequest struct {
	OldWalletAddress string `json:"oldWalletAddress"`
	NewWalletAddress string `json:"newWalletAddress"`
	Signature        string `json:"signature"`
	Nonce            int64  `json:"nonce"`
}

type UpdateWalletAddressResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
