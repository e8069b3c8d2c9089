package services

import (
	"crypto/ecdsa"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

func newTestKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// signMessage produces the personal_sign signature a browser wallet would,
// with the 27/28 recovery id convention.
func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig)
}

func TestRecoverAddress(t *testing.T) {
	svc := NewWalletService()
	key, address := newTestKey(t)

	message := "hello presale"
	signature := signMessage(t, key, message)

	recovered, err := svc.RecoverAddress(message, signature)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered.Hex() != address {
		t.Fatalf("expected %s, got %s", address, recovered.Hex())
	}
}

func TestRecoverAddressRawRecoveryID(t *testing.T) {
	svc := NewWalletService()
	key, address := newTestKey(t)

	message := "raw v"
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := svc.RecoverAddress(message, "0x"+hex.EncodeToString(sig))
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered.Hex() != address {
		t.Fatalf("expected %s, got %s", address, recovered.Hex())
	}
}

func TestVerifySignatureWrongSigner(t *testing.T) {
	svc := NewWalletService()
	key, _ := newTestKey(t)
	_, otherAddress := newTestKey(t)

	signature := signMessage(t, key, "claim it")

	valid, err := svc.VerifySignature(otherAddress, "claim it", signature)
	if err != nil {
		t.Fatalf("verify errored: %v", err)
	}
	if valid {
		t.Fatal("signature should not verify for another address")
	}
}

func TestVerifySignatureTamperedMessage(t *testing.T) {
	svc := NewWalletService()
	key, address := newTestKey(t)

	signature := signMessage(t, key, "original message")

	valid, err := svc.VerifySignature(address, "tampered message", signature)
	if err != nil {
		t.Fatalf("verify errored: %v", err)
	}
	if valid {
		t.Fatal("signature over a different message should not verify")
	}
}

func TestRecoverAddressRejectsGarbage(t *testing.T) {
	svc := NewWalletService()

	if _, err := svc.RecoverAddress("msg", "0xzz"); err == nil {
		t.Fatal("expected error for non-hex signature")
	}
	if _, err := svc.RecoverAddress("msg", "0xdeadbeef"); err == nil {
		t.Fatal("expected error for short signature")
	}
}

func TestIsAddressValid(t *testing.T) {
	svc := NewWalletService()

	if !svc.IsAddressValid("0xF479063E290E85e1470a11821128392F6063790B") {
		t.Fatal("well-formed address rejected")
	}
	if svc.IsAddressValid("F479063E290E85e1470a11821128392F6063790B") {
		t.Fatal("address without 0x prefix accepted")
	}
	if svc.IsAddressValid("0x1234") {
		t.Fatal("short address accepted")
	}
}
