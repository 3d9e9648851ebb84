// Package wallet wraps a blockchain RPC connection and a signing key for
// agent-initiated payments: balance queries, native and ERC-20 transfers, and
// transaction lookups. Amounts cross the package boundary in human units;
// atomic-unit conversion happens internally using each asset's decimals.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/datagate-io/datagate"
	"github.com/datagate-io/datagate/logger"
	"github.com/datagate-io/datagate/metrics"
)

// nativeDecimals is the precision of the chain's native asset.
const nativeDecimals = 18

const nativeTransferGas = 21000

// Config holds the wallet configuration, typically sourced from environment
// variables. Exactly one key source is needed: PrivateKey, Mnemonic or
// KeystorePath.
type Config struct {
	Name    string
	Address string

	PrivateKey       string
	Mnemonic         string
	MnemonicIndex    uint32
	KeystorePath     string
	KeystorePassword string

	ChainID int64
	RPCURL  string
}

// TransferResult is the outcome of a confirmed transfer. It is only produced
// after the chain reports a receipt; a failed submission returns an error and
// no result.
type TransferResult struct {
	TransactionHash string `json:"transactionHash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	ExplorerURL     string `json:"explorerUrl"`
	Success         bool   `json:"success"`
}

// Info summarizes the wallet for status endpoints.
type Info struct {
	Name             string `json:"name"`
	Address          string `json:"address"`
	Balance          string `json:"balance"`
	BalanceFormatted string `json:"balanceFormatted"`
	ChainID          int64  `json:"chainId"`
	Network          string `json:"network"`
}

// TransactionDetails pairs a transaction with its receipt and explorer link.
type TransactionDetails struct {
	Transaction *types.Transaction `json:"transaction"`
	Receipt     *types.Receipt     `json:"receipt"`
	ExplorerURL string             `json:"explorerUrl"`
}

// Client is the wallet transfer client. Transfers from the same wallet are
// serialized by an internal mutex to keep nonce assignment collision-free;
// read operations run without locking.
type Client struct {
	cfg     Config
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	network string
	log     logger.Logger
	rec     metrics.Recorder

	// transferMu serializes transfer submission per wallet.
	transferMu sync.Mutex
}

// New constructs a wallet client from config. Missing address, key source,
// or RPC endpoint is a configuration error surfaced as
// datagate.ErrWalletNotConfigured.
func New(cfg Config, log logger.Logger, rec metrics.Recorder) (*Client, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: wallet address missing", datagate.ErrWalletNotConfigured)
	}
	if err := datagate.ValidateEVMAddress(cfg.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrWalletNotConfigured, err)
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: rpc url missing", datagate.ErrWalletNotConfigured)
	}

	key, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}

	derived := crypto.PubkeyToAddress(key.PublicKey)
	configured := common.HexToAddress(cfg.Address)
	if derived != configured {
		return nil, fmt.Errorf("%w: signing key derives %s, config says %s",
			datagate.ErrWalletNotConfigured, derived.Hex(), configured.Hex())
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("rpc dial: %w", err)
	}

	network := ""
	if chain, ok := datagate.ChainByID(cfg.ChainID); ok {
		network = chain.NetworkID
	}

	return &Client{
		cfg:     cfg,
		eth:     eth,
		key:     key,
		address: configured,
		chainID: big.NewInt(cfg.ChainID),
		network: network,
		log:     log,
		rec:     rec,
	}, nil
}

// Address returns the wallet's address.
func (c *Client) Address() string {
	return c.address.Hex()
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Balance returns the native asset balance in human units.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	balance, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance query: %w", err)
	}
	return decimal.NewFromBigInt(balance, -nativeDecimals), nil
}

// TokenBalance is an ERC-20 holding in human units, labeled with the token's
// on-chain symbol.
type TokenBalance struct {
	Token   string          `json:"token"`
	Symbol  string          `json:"symbol"`
	Balance decimal.Decimal `json:"balance"`
}

// TokenBalance queries an ERC-20 balance, converting to human units with the
// token's own decimals.
func (c *Client) TokenBalance(ctx context.Context, tokenAddress string) (*TokenBalance, error) {
	tok, err := newToken(tokenAddress, c.eth)
	if err != nil {
		return nil, err
	}

	balance, err := tok.balanceOf(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("token balance query: %w", err)
	}
	decimals, err := tok.decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("token decimals query: %w", err)
	}
	symbol, err := tok.symbol(ctx)
	if err != nil {
		return nil, fmt.Errorf("token symbol query: %w", err)
	}
	return &TokenBalance{
		Token:   tok.address.Hex(),
		Symbol:  symbol,
		Balance: decimal.NewFromBigInt(balance, -int32(decimals)),
	}, nil
}

// Info reports the wallet address, native balance and network.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	balance, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("balance query: %w", err)
	}
	return &Info{
		Name:             c.cfg.Name,
		Address:          c.address.Hex(),
		Balance:          balance.String(),
		BalanceFormatted: decimal.NewFromBigInt(balance, -nativeDecimals).String(),
		ChainID:          c.cfg.ChainID,
		Network:          c.network,
	}, nil
}

// Transfer moves amount (human units) to the given address and blocks until
// one confirmation. An empty tokenAddress transfers the native asset;
// otherwise an ERC-20 transfer call is submitted against the token contract.
// On any failure no TransferResult is returned.
func (c *Client) Transfer(ctx context.Context, to, amount, tokenAddress string) (*TransferResult, error) {
	c.rec.IncCounter(metrics.CounterTransfer, map[string]string{"network": c.network})
	defer func(start time.Time) {
		c.rec.ObserveLatency("wallet_transfer", time.Since(start), map[string]string{"network": c.network})
	}(time.Now())

	if err := datagate.ValidateEVMAddress(to); err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrSettlementFailed, err)
	}

	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	if tokenAddress == "" {
		return c.transferNative(ctx, to, amount)
	}
	return c.transferToken(ctx, to, amount, tokenAddress)
}

func (c *Client) transferNative(ctx context.Context, to, amount string) (*TransferResult, error) {
	value, err := toAtomic(amount, nativeDecimals)
	if err != nil {
		return nil, err
	}

	balance, err := c.eth.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance query: %v", datagate.ErrSettlementFailed, err)
	}
	if balance.Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", datagate.ErrInsufficientFunds,
			decimal.NewFromBigInt(balance, -nativeDecimals), amount)
	}

	toAddr := common.HexToAddress(to)
	receipt, hash, err := c.submit(ctx, &toAddr, value, nativeTransferGas, nil)
	if err != nil {
		return nil, err
	}

	c.log.Info("native transfer confirmed", map[string]any{
		"to": to, "amount": amount, "transaction": hash,
	})
	return c.result(hash, to, amount, receipt), nil
}

func (c *Client) transferToken(ctx context.Context, to, amount, tokenAddress string) (*TransferResult, error) {
	tok, err := newToken(tokenAddress, c.eth)
	if err != nil {
		return nil, err
	}

	decimals, err := tok.decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: token decimals query: %v", datagate.ErrSettlementFailed, err)
	}
	value, err := toAtomic(amount, int32(decimals))
	if err != nil {
		return nil, err
	}

	balance, err := tok.balanceOf(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("%w: token balance query: %v", datagate.ErrSettlementFailed, err)
	}
	if balance.Cmp(value) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", datagate.ErrInsufficientFunds,
			decimal.NewFromBigInt(balance, -int32(decimals)), amount)
	}

	callData, err := tok.packTransfer(common.HexToAddress(to), value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datagate.ErrSettlementFailed, err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.address,
		To:   &tok.address,
		Data: callData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %v", datagate.ErrSettlementFailed, err)
	}

	receipt, hash, err := c.submit(ctx, &tok.address, big.NewInt(0), gasLimit, callData)
	if err != nil {
		return nil, err
	}

	c.log.Info("token transfer confirmed", map[string]any{
		"to": to, "amount": amount, "token": tokenAddress, "transaction": hash,
	})
	return c.result(hash, to, amount, receipt), nil
}

// submit signs, sends and waits for one confirmation. The caller holds
// transferMu, so the pending nonce cannot race another transfer from this
// wallet.
func (c *Client) submit(ctx context.Context, to *common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Receipt, string, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, "", fmt.Errorf("%w: pending nonce: %v", datagate.ErrSettlementFailed, err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: suggest gas price: %v", datagate.ErrSettlementFailed, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, "", fmt.Errorf("%w: sign: %v", datagate.ErrSettlementFailed, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, "", fmt.Errorf("%w: send: %v", datagate.ErrSettlementFailed, err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return nil, "", fmt.Errorf("%w: confirmation wait: %v", datagate.ErrSettlementFailed, err)
	}
	return receipt, signed.Hash().Hex(), nil
}

func (c *Client) result(hash, to, amount string, receipt *types.Receipt) *TransferResult {
	return &TransferResult{
		TransactionHash: hash,
		From:            c.address.Hex(),
		To:              to,
		Amount:          amount,
		ExplorerURL:     datagate.TransactionURL(hash, c.network),
		Success:         receipt.Status == types.ReceiptStatusSuccessful,
	}
}

// Transaction fetches a transaction and its receipt by hash.
func (c *Client) Transaction(ctx context.Context, hash string) (*TransactionDetails, error) {
	txHash := common.HexToHash(hash)

	tx, _, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("transaction lookup: %w", err)
	}
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("receipt lookup: %w", err)
	}

	return &TransactionDetails{
		Transaction: tx,
		Receipt:     receipt,
		ExplorerURL: datagate.TransactionURL(hash, c.network),
	}, nil
}

// EstimateGas estimates the gas needed for a native transfer, returned in
// native human units (gas units are scaled like wei for display parity with
// balances).
func (c *Client) EstimateGas(ctx context.Context, to, amount string) (decimal.Decimal, error) {
	value, err := toAtomic(amount, nativeDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	toAddr := common.HexToAddress(to)
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &toAddr,
		Value: value,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("estimate gas: %w", err)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(gas), -nativeDecimals), nil
}

// toAtomic converts a human-unit amount string to atomic units. Amounts with
// more fractional digits than the asset supports are rejected.
func toAtomic(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", datagate.ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", datagate.ErrInvalidAmount, amount)
	}

	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q exceeds %d decimals", datagate.ErrInvalidAmount, amount, decimals)
	}
	return shifted.BigInt(), nil
}
