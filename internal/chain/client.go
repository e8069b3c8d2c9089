package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bbux/presale-api/internal/config"
)

// Client is the narrow interface the fulfillment pipeline needs from an
// Ethereum node: read a token's decimals, read auxiliary contract state,
// submit an ERC-20 transfer and wait for it to confirm.
type Client interface {
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error)
	Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error)
}

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// The presale contract exposes the linked token address through its "bbux"
// getter.
const presaleABIJSON = `[
	{"constant":true,"inputs":[],"name":"bbux","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

var (
	erc20ABI   = mustParseABI(erc20ABIJSON)
	presaleABI = mustParseABI(presaleABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PackTokenAddressCall returns the calldata reading the presale contract's
// linked token address.
func PackTokenAddressCall() []byte {
	data, err := presaleABI.Pack("bbux")
	if err != nil {
		panic(err)
	}
	return data
}

// UnpackAddressResult decodes a single address return value.
func UnpackAddressResult(out []byte) (common.Address, error) {
	values, err := presaleABI.Unpack("bbux", out)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("unexpected return type for address call")
	}
	return addr, nil
}

// EthClient is the ethclient-backed Client. All transfers are submitted from
// the single operator key; nonce allocation is serialized so concurrent
// deliveries cannot reuse a nonce.
type EthClient struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address

	mu        sync.Mutex
	nextNonce uint64
	nonceInit bool
}

// NewEthClient dials the configured RPC endpoint. The signing key is optional;
// a client without it can read state but not transfer.
func NewEthClient(cfg config.ChainConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	c := &EthClient{
		eth:     eth,
		chainID: big.NewInt(cfg.ChainID),
	}

	if cfg.AdminPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse admin private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// From returns the operator address, zero when no key is configured.
func (c *EthClient) From() common.Address {
	return c.from
}

// TokenDecimals reads the token's decimal precision.
func (c *EthClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	out, err := c.Call(ctx, token, data)
	if err != nil {
		return 0, err
	}

	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("decode decimals: %w", err)
	}
	dec, ok := values[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected return type for decimals")
	}

	return dec, nil
}

// Call executes a read-only contract call.
func (c *EthClient) Call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
}

// Transfer submits an ERC-20 transfer from the operator key and returns the
// transaction hash. It does not wait for confirmation.
func (c *EthClient) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, errors.New("no signing key configured")
	}

	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, err
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &token,
		Data: data,
	})
	if err != nil {
		// A transfer that would revert fails estimation; surface it
		// before spending gas.
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nonceInit {
		nonce, err := c.eth.PendingNonceAt(ctx, c.from)
		if err != nil {
			return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
		}
		c.nextNonce = nonce
		c.nonceInit = true
	}

	tx := types.NewTransaction(c.nextNonce, token, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		// Refetch the nonce on the next attempt; the node may have
		// rejected this one for a nonce conflict.
		c.nonceInit = false
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	c.nextNonce++
	return signed.Hash(), nil
}

// AwaitConfirmation polls for the receipt until the transaction has the
// requested number of confirmations or ctx expires.
func (c *EthClient) AwaitConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if confirmations == 1 {
				return receipt, nil
			}
			head, err := c.eth.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64()+confirmations-1 {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
