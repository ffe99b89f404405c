package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// ConsentFunc decides whether the holder grants account access.
type ConsentFunc func(ctx context.Context, account common.Address) (bool, error)

// KeyWallet is a wallet backed by raw private keys. One key is active at a
// time; Switch changes it and notifies subscribers.
type KeyWallet struct {
	consent ConsentFunc
	feed    event.Feed

	mu     sync.RWMutex
	keys   []*ecdsa.PrivateKey
	active int
}

// NewKeyWallet parses hex keys (with or without 0x). consent may be nil to
// approve every request.
func NewKeyWallet(hexKeys []string, consent ConsentFunc) (*KeyWallet, error) {
	if len(hexKeys) == 0 {
		return nil, fmt.Errorf("%w: no keys configured", ErrWalletUnavailable)
	}
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, hexKey := range hexKeys {
		key, err := parsePrivateKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return &KeyWallet{keys: keys, consent: consent}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Accounts lists every address the wallet holds, in key order.
func (w *KeyWallet) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]common.Address, len(w.keys))
	for i, key := range w.keys {
		out[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return out
}

func (w *KeyWallet) ActiveAccount() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return crypto.PubkeyToAddress(w.keys[w.active].PublicKey)
}

// RequestAccounts exposes the active account once consent is granted.
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	account := w.ActiveAccount()
	if w.consent != nil {
		ok, err := w.consent(ctx, account)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUserRejected
		}
	}
	return []common.Address{account}, nil
}

// Transactor signs for account, which must still be the active one.
func (w *KeyWallet) Transactor(ctx context.Context, account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	w.mu.RLock()
	key := w.keys[w.active]
	w.mu.RUnlock()

	if crypto.PubkeyToAddress(key.PublicKey) != account {
		return nil, fmt.Errorf("%w: %s is not the active account", ErrUserRejected, account.Hex())
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Switch activates the key at index and emits an AccountChange.
func (w *KeyWallet) Switch(index int) error {
	w.mu.Lock()
	if index < 0 || index >= len(w.keys) {
		w.mu.Unlock()
		return fmt.Errorf("account index %d out of range [0,%d)", index, len(w.keys))
	}
	if index == w.active {
		w.mu.Unlock()
		return nil
	}
	change := AccountChange{
		Previous: crypto.PubkeyToAddress(w.keys[w.active].PublicKey),
		Account:  crypto.PubkeyToAddress(w.keys[index].PublicKey),
	}
	w.active = index
	w.mu.Unlock()

	w.feed.Send(change)
	return nil
}

func (w *KeyWallet) SubscribeAccountChanges(ch chan<- AccountChange) event.Subscription {
	return w.feed.Subscribe(ch)
}
