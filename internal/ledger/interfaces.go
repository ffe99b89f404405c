package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	ErrWalletUnavailable   = errors.New("wallet unavailable")
	ErrUserRejected        = errors.New("user rejected the request")
	ErrAlreadyPending      = errors.New("account request already pending")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrTransactionTimeout  = errors.New("transaction confirmation timed out")
)

// Wallet is the account/signing capability injected into the gateway.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Transactor(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
	SubscribeAccountChanges(ch chan<- AccountChange) event.Subscription
}

// Contract is the subset of *bind.BoundContract the gateway drives.
type Contract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// ReceiptSource looks up mined transaction receipts.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// AccountChange is emitted by the wallet when the active account switches.
// Account is the zero address when the wallet disconnected.
type AccountChange struct {
	Previous common.Address
	Account  common.Address
}

// PendingTx is a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash   common.Hash
	Method string
	Value  *big.Int
}

// Event is a decoded contract log.
type Event struct {
	Name   string
	Args   map[string]interface{}
	TxHash common.Hash
	Index  uint
}

// Uint returns the named argument as a big integer.
func (e Event) Uint(name string) (*big.Int, bool) {
	v, ok := e.Args[name].(*big.Int)
	return v, ok
}
