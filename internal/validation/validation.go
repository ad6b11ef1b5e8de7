package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ethereumAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashRegex          = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	signatureRegex       = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
	urlRegex             = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
)

// ValidateAddress validates an EVM address
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}
	if !ethereumAddressRegex.MatchString(address) {
		return errors.New("invalid Ethereum address format")
	}
	if strings.EqualFold(address, "0x0000000000000000000000000000000000000000") {
		return errors.New("address cannot be the zero address")
	}
	return nil
}

// ValidateTxHash validates a transaction hash
func ValidateTxHash(txHash string) error {
	if txHash == "" {
		return errors.New("transaction hash cannot be empty")
	}
	if !txHashRegex.MatchString(txHash) {
		return errors.New("invalid transaction hash")
	}
	return nil
}

// ValidateSignature validates a 65-byte hex encoded signature
func ValidateSignature(signature string) error {
	if !signatureRegex.MatchString(signature) {
		return errors.New("invalid signature format")
	}
	return nil
}

// ValidateUserID validates an opaque user identifier
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id cannot be empty")
	}
	if len(userID) > 128 {
		return errors.New("user id is too long")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(url string) error {
	if url == "" {
		return errors.New("URL cannot be empty")
	}
	if !urlRegex.MatchString(url) {
		return errors.New("invalid URL format")
	}
	return nil
}
