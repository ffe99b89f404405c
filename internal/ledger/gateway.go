package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nexuspay/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

const defaultPollInterval = 2 * time.Second

// Gateway is the only path from the shop to the wallet and the ProductOrder contract.
type Gateway struct {
	contract Contract
	receipts ReceiptSource
	wallet   Wallet
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	chain    interface {
		BlockNumber(ctx context.Context) (uint64, error)
	}
	closer func()

	confirmTimeout time.Duration
	pollInterval   time.Duration
	log            logrus.FieldLogger

	requesting atomic.Bool

	mu      sync.RWMutex
	account common.Address
	hasAcct bool
}

// Options tune a Gateway built around an existing contract binding.
type Options struct {
	Address        common.Address
	ChainID        *big.Int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Logger         logrus.FieldLogger
}

type EthGatewayConfig struct {
	RPCURL          string
	ContractAddress string
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

// NewEthGateway dials the RPC endpoint and binds the ProductOrder contract.
// wallet may be nil, in which case Connect and Submit report ErrWalletUnavailable.
func NewEthGateway(ctx context.Context, cfg EthGatewayConfig, wallet Wallet, log logrus.FieldLogger) (*Gateway, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("product order contract address is invalid: %q", cfg.ContractAddress)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	parsedABI, err := parseABI()
	if err != nil {
		cli.Close()
		return nil, err
	}

	address := common.HexToAddress(cfg.ContractAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	g, err := NewGateway(bound, cli, wallet, Options{
		Address:        address,
		ChainID:        chainID,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
		Logger:         log,
	})
	if err != nil {
		cli.Close()
		return nil, err
	}
	g.chain = cli
	g.closer = cli.Close
	return g, nil
}

// NewGateway wraps an already bound contract and a receipt source.
func NewGateway(contract Contract, receipts ReceiptSource, wallet Wallet, opts Options) (*Gateway, error) {
	if contract == nil || receipts == nil {
		return nil, fmt.Errorf("contract binding and receipt source are required")
	}
	parsedABI, err := parseABI()
	if err != nil {
		return nil, err
	}

	chainID := opts.ChainID
	if chainID == nil {
		chainID = big.NewInt(1337)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Gateway{
		contract:       contract,
		receipts:       receipts,
		wallet:         wallet,
		abi:            parsedABI,
		address:        opts.Address,
		chainID:        new(big.Int).Set(chainID),
		confirmTimeout: opts.ConfirmTimeout,
		pollInterval:   poll,
		log:            log.WithField("component", "ledger"),
	}, nil
}

func parseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(contracts.ProductOrderABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// Connect asks the wallet for account access. Only one request may be
// outstanding at a time; overlapping calls fail with ErrAlreadyPending.
func (g *Gateway) Connect(ctx context.Context) (common.Address, error) {
	if g.wallet == nil {
		return common.Address{}, ErrWalletUnavailable
	}
	if !g.requesting.CompareAndSwap(false, true) {
		return common.Address{}, ErrAlreadyPending
	}
	defer g.requesting.Store(false)

	accounts, err := g.wallet.RequestAccounts(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserRejected), errors.Is(err, ErrAlreadyPending), errors.Is(err, ErrWalletUnavailable):
			return common.Address{}, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return common.Address{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return common.Address{}, fmt.Errorf("%w: request accounts: %v", ErrWalletUnavailable, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, fmt.Errorf("%w: wallet exposed no accounts", ErrUserRejected)
	}

	account := accounts[0]
	g.mu.Lock()
	g.account = account
	g.hasAcct = true
	g.mu.Unlock()

	g.log.WithField("account", account.Hex()).Info("wallet connected")
	return account, nil
}

// Account returns the signer identity authenticated by the last Connect.
func (g *Gateway) Account() (common.Address, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.account, g.hasAcct
}

// Call runs a read-only contract method against current ledger state.
func (g *Gateway) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	opts := &bind.CallOpts{Context: ctx}
	if account, ok := g.Account(); ok {
		opts.From = account
	}

	var out []interface{}
	if err := g.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// Submit signs and sends a state-changing transaction. value may be nil.
func (g *Gateway) Submit(ctx context.Context, method string, value *big.Int, args ...interface{}) (*PendingTx, error) {
	if g.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	account, ok := g.Account()
	if !ok {
		return nil, fmt.Errorf("%w: no authenticated account", ErrWalletUnavailable)
	}

	signer, err := g.wallet.Transactor(ctx, account, g.chainID)
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			return nil, fmt.Errorf("sign %s: %w", method, err)
		}
		return nil, fmt.Errorf("%w: signer: %v", ErrWalletUnavailable, err)
	}

	opts := *signer
	opts.Context = ctx
	if value != nil {
		opts.Value = new(big.Int).Set(value)
	}

	tx, err := g.contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s tx: %v", ErrTransactionReverted, method, err)
	}

	g.log.WithFields(logrus.Fields{
		"method":  method,
		"tx_hash": tx.Hash().Hex(),
		"value":   opts.Value,
	}).Info("transaction submitted")

	return &PendingTx{Hash: tx.Hash(), Method: method, Value: opts.Value}, nil
}

// Confirm blocks until the transaction is mined and returns the decoded
// events of its receipt. Logs that match no known event are skipped.
func (g *Gateway) Confirm(ctx context.Context, tx *PendingTx) ([]Event, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: no pending transaction", ErrTransactionTimeout)
	}
	if g.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.confirmTimeout)
		defer cancel()
	}

	receipt, err := g.waitForReceipt(ctx, tx.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransactionTimeout, tx.Method, tx.Hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s %s", ErrTransactionReverted, tx.Method, tx.Hash.Hex())
	}

	events := make([]Event, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		if ev, ok := g.DecodeEvent(*l); ok {
			events = append(events, ev)
		}
	}

	g.log.WithFields(logrus.Fields{
		"method":  tx.Method,
		"tx_hash": tx.Hash.Hex(),
		"block":   receipt.BlockNumber,
		"events":  len(events),
	}).Info("transaction confirmed")
	return events, nil
}

// waitForReceipt polls until the transaction is mined or ctx ends.
func (g *Gateway) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.receipts.TransactionReceipt(ctx, hash)
		if receipt != nil && err == nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeAccountChanges forwards the wallet's account-changed signal.
// Without a wallet the subscription stays silent until unsubscribed.
func (g *Gateway) SubscribeAccountChanges(ch chan<- AccountChange) event.Subscription {
	if g.wallet == nil {
		return event.NewSubscription(func(quit <-chan struct{}) error {
			<-quit
			return nil
		})
	}
	return g.wallet.SubscribeAccountChanges(ch)
}

func (g *Gateway) Ping(ctx context.Context) error {
	if g.chain == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := g.chain.BlockNumber(ctx)
	return err
}

func (g *Gateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}
