package services

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bbux/presale-api/internal/models"
)

func newClaimFixture(t *testing.T) (*ClaimService, *memStore) {
	t.Helper()
	ms := newMemStore()
	svc := NewClaimService(ms, NewWalletService(), nil, nil, nil,
		testLogger(), "https://presale.example.com", "BBUX", 60)
	return svc, ms
}

func seedFiatPayment(t *testing.T, ms *memStore, txID string) {
	t.Helper()
	err := ms.Upsert(&models.PaymentRecord{
		TransactionID: txID,
		Source:        models.PaymentSourceFiat,
		GrossAmount:   decimal.RequireFromString("21.74"),
		Currency:      "CAD",
		TokenAmount:   decimal.NewNullDecimal(decimal.NewFromInt(43478)),
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func TestIssueClaim(t *testing.T) {
	svc, ms := newClaimFixture(t)
	seedFiatPayment(t, ms, "CAP-1001")

	claim, err := svc.Issue(models.IssueClaimRequest{TransactionID: "CAP-1001"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// 16 random bytes, hex encoded.
	if len(claim.Token) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", claim.Token)
	}
	if _, err := hex.DecodeString(claim.Token); err != nil {
		t.Fatalf("token is not hex: %q", claim.Token)
	}
	if !strings.HasPrefix(claim.URL, "https://presale.example.com/claim/") {
		t.Fatalf("unexpected claim URL %q", claim.URL)
	}
	if time.Until(claim.ExpiresAt) < 55*time.Minute {
		t.Fatalf("expected roughly one hour TTL, expires %s", claim.ExpiresAt)
	}

	rec, _ := ms.GetByTransactionID("CAP-1001")
	if rec.ClaimToken == nil || *rec.ClaimToken != claim.Token {
		t.Fatal("claim token not persisted")
	}
}

func TestIssueClaimUnknownPayment(t *testing.T) {
	svc, _ := newClaimFixture(t)

	if _, err := svc.Issue(models.IssueClaimRequest{TransactionID: "missing"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestRedeemClaim(t *testing.T) {
	svc, ms := newClaimFixture(t)
	seedFiatPayment(t, ms, "CAP-2001")

	claim, err := svc.Issue(models.IssueClaimRequest{TransactionID: "CAP-2001"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	key, address := newTestKey(t)
	rec, _ := ms.GetByClaimToken(claim.Token)
	signature := signMessage(t, key, svc.ClaimMessage(rec))

	redeemed, queued, err := svc.Redeem(claim.Token, models.ClaimRedeemRequest{
		Wallet:    address,
		Signature: signature,
	})
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if queued {
		t.Fatal("no worker configured, nothing should be queued")
	}
	if !redeemed.Claimed {
		t.Fatal("record not marked claimed")
	}
	if redeemed.ClaimedWallet == nil || *redeemed.ClaimedWallet != address {
		t.Fatalf("wallet not bound, got %v", redeemed.ClaimedWallet)
	}

	// Second redemption, even from the same wallet, is refused.
	_, _, err = svc.Redeem(claim.Token, models.ClaimRedeemRequest{
		Wallet:    address,
		Signature: signature,
	})
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestRedeemExpiredClaim(t *testing.T) {
	svc, ms := newClaimFixture(t)
	seedFiatPayment(t, ms, "CAP-3001")

	claim, err := svc.Issue(models.IssueClaimRequest{TransactionID: "CAP-3001"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// Force the expiry into the past.
	past := time.Now().Add(-time.Minute)
	if err := ms.SetClaim("CAP-3001", claim.Token, past); err != nil {
		t.Fatalf("backdate claim: %v", err)
	}

	key, address := newTestKey(t)
	rec, _ := ms.GetByClaimToken(claim.Token)
	signature := signMessage(t, key, svc.ClaimMessage(rec))

	_, _, err = svc.Redeem(claim.Token, models.ClaimRedeemRequest{
		Wallet:    address,
		Signature: signature,
	})
	if !errors.Is(err, ErrClaimExpired) {
		t.Fatalf("expected ErrClaimExpired, got %v", err)
	}
}

func TestRedeemBadSignature(t *testing.T) {
	svc, ms := newClaimFixture(t)
	seedFiatPayment(t, ms, "CAP-4001")

	claim, err := svc.Issue(models.IssueClaimRequest{TransactionID: "CAP-4001"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	key, _ := newTestKey(t)
	_, victimAddress := newTestKey(t)
	rec, _ := ms.GetByClaimToken(claim.Token)

	// Attacker signs with their own key but asserts the victim's address.
	signature := signMessage(t, key, svc.ClaimMessage(rec))
	_, _, err = svc.Redeem(claim.Token, models.ClaimRedeemRequest{
		Wallet:    victimAddress,
		Signature: signature,
	})
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}

	// Signature over a different message is equally useless.
	signature = signMessage(t, key, "some other text")
	_, _, err = svc.Redeem(claim.Token, models.ClaimRedeemRequest{
		Wallet:    victimAddress,
		Signature: signature,
	})
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	svc, _ := newClaimFixture(t)

	_, _, err := svc.Redeem("deadbeef", models.ClaimRedeemRequest{Wallet: "0x0", Signature: "0x0"})
	if !errors.Is(err, ErrClaimNotFound) {
		t.Fatalf("expected ErrClaimNotFound, got %v", err)
	}
}

func TestClaimMessageBindsLedgerState(t *testing.T) {
	svc, ms := newClaimFixture(t)
	seedFiatPayment(t, ms, "CAP-5001")

	claim, err := svc.Issue(models.IssueClaimRequest{TransactionID: "CAP-5001"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rec, _ := ms.GetByClaimToken(claim.Token)
	message := svc.ClaimMessage(rec)
	want := "I claim transaction CAP-5001 for 43478 BBUX (claim: " + claim.Token + ")"
	if message != want {
		t.Fatalf("unexpected claim message:\n got %q\nwant %q", message, want)
	}
}
