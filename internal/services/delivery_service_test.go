package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/bbux/presale-api/internal/chain"
	"github.com/bbux/presale-api/internal/config"
	"github.com/bbux/presale-api/internal/models"
)

// fakeChain is a scripted chain.Client.
type fakeChain struct {
	decimals      uint8
	decimalsErr   error
	transferErr   error
	receiptStatus uint64
	transfers     []transferCall
	nextHash      byte
}

type transferCall struct {
	token  common.Address
	to     common.Address
	amount *big.Int
}

func (f *fakeChain) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if f.decimalsErr != nil {
		return 0, f.decimalsErr
	}
	return f.decimals, nil
}

func (f *fakeChain) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	if f.transferErr != nil {
		return common.Hash{}, f.transferErr
	}
	f.nextHash++
	f.transfers = append(f.transfers, transferCall{token: token, to: to, amount: new(big.Int).Set(amount)})
	return common.BytesToHash([]byte{f.nextHash}), nil
}

func (f *fakeChain) AwaitConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	status := f.receiptStatus
	if status == 0 && f.transferErr == nil {
		status = 1
	}
	return &types.Receipt{Status: status}, nil
}

func (f *fakeChain) Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	return nil, errors.New("not scripted")
}

var _ chain.Client = (*fakeChain)(nil)

const testTokenAddr = "0x1111111111111111111111111111111111111111"

func newDeliveryFixture(t *testing.T, fc *fakeChain) (*DeliveryService, *memStore) {
	t.Helper()
	ms := newMemStore()
	svc := NewDeliveryService(ms, fc, config.ChainConfig{
		TokenAddress:  testTokenAddr,
		Confirmations: 1,
	}, nil, testLogger())
	return svc, ms
}

func seedDeliverable(t *testing.T, ms *memStore, txID, wallet string) {
	t.Helper()
	err := ms.Upsert(&models.PaymentRecord{
		TransactionID: txID,
		Source:        models.PaymentSourceOnChain,
		BuyerWallet:   &wallet,
		GrossAmount:   decimal.RequireFromString("0.01"),
		Currency:      "ETH",
		TokenAmount:   decimal.NewNullDecimal(decimal.RequireFromString("20000.5")),
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func TestDeliverTransfersScaledAmount(t *testing.T) {
	fc := &fakeChain{decimals: 18}
	svc, ms := newDeliveryFixture(t, fc)
	_, wallet := newTestKey(t)
	seedDeliverable(t, ms, "0xabc", wallet)

	result, err := svc.Deliver(context.Background(), "0xabc", "")
	if err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if result.AlreadyDelivered {
		t.Fatal("first delivery reported as already delivered")
	}

	if len(fc.transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(fc.transfers))
	}
	call := fc.transfers[0]
	if call.to != common.HexToAddress(wallet) {
		t.Fatalf("transfer sent to %s, want %s", call.to.Hex(), wallet)
	}
	// 20000.5 tokens at 18 decimals
	want, _ := new(big.Int).SetString("20000500000000000000000", 10)
	if call.amount.Cmp(want) != 0 {
		t.Fatalf("transfer amount %s, want %s", call.amount, want)
	}

	rec, _ := ms.GetByTransactionID("0xabc")
	if !rec.Delivered || rec.DeliveryTxHash == nil {
		t.Fatal("delivery not recorded")
	}
}

func TestDeliverExactlyOnce(t *testing.T) {
	fc := &fakeChain{decimals: 18}
	svc, ms := newDeliveryFixture(t, fc)
	_, wallet := newTestKey(t)
	seedDeliverable(t, ms, "0xonce", wallet)

	first, err := svc.Deliver(context.Background(), "0xonce", "")
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	second, err := svc.Deliver(context.Background(), "0xonce", "")
	if err != nil {
		t.Fatalf("second delivery errored: %v", err)
	}
	if !second.AlreadyDelivered {
		t.Fatal("second delivery should be a no-op")
	}
	if second.TxHash != first.TxHash {
		t.Fatalf("second delivery reported hash %s, want original %s", second.TxHash, first.TxHash)
	}
	if len(fc.transfers) != 1 {
		t.Fatalf("expected exactly 1 transfer, got %d", len(fc.transfers))
	}
}

func TestDeliverFailsClosedOnDecimals(t *testing.T) {
	fc := &fakeChain{decimalsErr: errors.New("rpc down")}
	svc, ms := newDeliveryFixture(t, fc)
	_, wallet := newTestKey(t)
	seedDeliverable(t, ms, "0xdec", wallet)

	_, err := svc.Deliver(context.Background(), "0xdec", "")
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected ChainError, got %v", err)
	}
	if len(fc.transfers) != 0 {
		t.Fatal("no transfer should be attempted without decimals")
	}

	rec, _ := ms.GetByTransactionID("0xdec")
	if rec.Delivered {
		t.Fatal("failed delivery must leave the record undelivered")
	}
}

func TestDeliverUsesConfiguredDecimalsFallback(t *testing.T) {
	fc := &fakeChain{decimalsErr: errors.New("rpc down")}
	ms := newMemStore()
	svc := NewDeliveryService(ms, fc, config.ChainConfig{
		TokenAddress:  testTokenAddr,
		TokenDecimals: 6,
		Confirmations: 1,
	}, nil, testLogger())

	_, wallet := newTestKey(t)
	seedDeliverable(t, ms, "0xfb", wallet)

	if _, err := svc.Deliver(context.Background(), "0xfb", ""); err != nil {
		t.Fatalf("deliver with fallback decimals failed: %v", err)
	}

	want, _ := new(big.Int).SetString("20000500000", 10) // 20000.5 at 6 decimals
	if fc.transfers[0].amount.Cmp(want) != 0 {
		t.Fatalf("transfer amount %s, want %s", fc.transfers[0].amount, want)
	}
}

func TestDeliverChainFailureLeavesUndelivered(t *testing.T) {
	fc := &fakeChain{decimals: 18, transferErr: fmt.Errorf("insufficient funds")}
	svc, ms := newDeliveryFixture(t, fc)
	_, wallet := newTestKey(t)
	seedDeliverable(t, ms, "0xfail", wallet)

	_, err := svc.Deliver(context.Background(), "0xfail", "")
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected ChainError, got %v", err)
	}

	rec, _ := ms.GetByTransactionID("0xfail")
	if rec.Delivered {
		t.Fatal("record must stay undelivered after chain failure")
	}
}

func TestDeliverValidation(t *testing.T) {
	fc := &fakeChain{decimals: 18}
	svc, ms := newDeliveryFixture(t, fc)

	if _, err := svc.Deliver(context.Background(), "missing", ""); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}

	// No wallet anywhere on the record.
	if err := ms.Upsert(&models.PaymentRecord{
		TransactionID: "nowallet",
		Source:        models.PaymentSourceFiat,
		GrossAmount:   decimal.RequireFromString("10"),
		TokenAmount:   decimal.NewNullDecimal(decimal.NewFromInt(100)),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Deliver(context.Background(), "nowallet", ""); !errors.Is(err, ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}
	if _, err := svc.Deliver(context.Background(), "nowallet", "not-an-address"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}

	// Wallet but no token amount.
	_, wallet := newTestKey(t)
	if err := ms.Upsert(&models.PaymentRecord{
		TransactionID: "noamount",
		Source:        models.PaymentSourceFiat,
		BuyerWallet:   &wallet,
		GrossAmount:   decimal.RequireFromString("10"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Deliver(context.Background(), "noamount", ""); !errors.Is(err, ErrMissingTokenAmount) {
		t.Fatalf("expected ErrMissingTokenAmount, got %v", err)
	}
}
