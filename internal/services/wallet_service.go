package services

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WalletService handles Ethereum wallet operations: personal-message
// signature recovery and address validation.
type WalletService struct{}

// NewWalletService creates a new WalletService
func NewWalletService() *WalletService {
	return &WalletService{}
}

// RecoverAddress recovers the signer of an EIP-191 personal message.
// The signature is the standard 65-byte r||s||v hex produced by
// personal_sign; both 0/1 and 27/28 recovery ids are accepted.
func (s *WalletService) RecoverAddress(message, signature string) (common.Address, error) {
	sigHex := strings.TrimPrefix(signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature format: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	// Normalize the recovery id
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature verifies that signature over message recovers to address
func (s *WalletService) VerifySignature(address, message, signature string) (bool, error) {
	if !s.IsAddressValid(address) {
		return false, fmt.Errorf("invalid address: %s", address)
	}

	recovered, err := s.RecoverAddress(message, signature)
	if err != nil {
		return false, err
	}

	return recovered == common.HexToAddress(address), nil
}

// IsAddressValid checks if an Ethereum address is well formed
func (s *WalletService) IsAddressValid(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// Checksum returns the EIP-55 checksummed form of an address
func (s *WalletService) Checksum(address string) string {
	return common.HexToAddress(address).Hex()
}
