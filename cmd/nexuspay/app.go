package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"nexuspay/internal/config"
	"nexuspay/internal/ledger"
	"nexuspay/internal/logging"
	"nexuspay/internal/shop"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg     *config.AppConfig
	log     *logrus.Logger
	wallet  *ledger.KeyWallet
	gateway *ledger.Gateway
	session *shop.Session
	coord   *shop.Coordinator
}

func bootstrap(ctx context.Context, consent ledger.ConsentFunc) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	var (
		keyWallet *ledger.KeyWallet
		wallet    ledger.Wallet
	)
	if len(cfg.Chain.PrivateKeys) > 0 {
		keyWallet, err = ledger.NewKeyWallet(cfg.Chain.PrivateKeys, consent)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		wallet = keyWallet
	} else {
		log.Warn("WALLET_PRIVATE_KEYS is empty, intents that need a wallet will fail")
	}

	gateway, err := ledger.NewEthGateway(ctx, ledger.EthGatewayConfig{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		ConfirmTimeout:  cfg.Chain.ConfirmTimeout,
		PollInterval:    cfg.Chain.PollInterval,
	}, wallet, log)
	if err != nil {
		return nil, fmt.Errorf("ledger gateway: %w", err)
	}

	session := shop.NewSession()
	return &app{
		cfg:     cfg,
		log:     log,
		wallet:  keyWallet,
		gateway: gateway,
		session: session,
		coord:   shop.NewCoordinator(gateway, session, log),
	}, nil
}

func (a *app) Close() {
	a.coord.Close()
	a.gateway.Close()
}

// promptConsent asks the operator before the wallet exposes an account.
// Anything but y or yes declines.
func promptConsent(in io.Reader, out io.Writer) ledger.ConsentFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, account common.Address) (bool, error) {
		fmt.Fprintf(out, "Allow nexuspay to use account %s? [y/N] ", account.Hex())

		answer := make(chan string, 1)
		go func() {
			line, _ := reader.ReadString('\n')
			answer <- line
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line := <-answer:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			}
			return false, nil
		}
	}
}

func consentFor(cmdIn io.Reader, cmdOut io.Writer) ledger.ConsentFunc {
	if !confirmAccess {
		return nil
	}
	return promptConsent(cmdIn, cmdOut)
}
