package shop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"nexuspay/internal/catalog"
	"nexuspay/internal/contracts"
	"nexuspay/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// Ledger is the gateway capability the coordinator drives.
type Ledger interface {
	Connect(ctx context.Context) (common.Address, error)
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	Submit(ctx context.Context, method string, value *big.Int, args ...interface{}) (*ledger.PendingTx, error)
	Confirm(ctx context.Context, tx *ledger.PendingTx) ([]ledger.Event, error)
	SubscribeAccountChanges(ch chan<- ledger.AccountChange) event.Subscription
}

// Coordinator turns user intents into ledger round-trips and reconciles the
// Session with what the ledger reports. At most one intent runs at a time.
type Coordinator struct {
	ledger  Ledger
	loader  *catalog.Loader
	session *Session
	log     logrus.FieldLogger

	watchMu sync.Mutex
	watch   *watcher
}

func NewCoordinator(l Ledger, session *Session, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		ledger:  l,
		loader:  catalog.NewLoader(l, log),
		session: session,
		log:     log.WithField("component", "shop"),
	}
}

// Connect authenticates the wallet account and loads the catalog.
func (c *Coordinator) Connect(ctx context.Context) (err error) {
	s := c.session
	t, err := s.begin(func() error {
		switch s.state {
		case StateIdle, StateConnected, StateReady, StateError:
			return nil
		}
		return fmt.Errorf("%w: cannot connect while %s", ErrInvalidState, s.state)
	}, StateConnecting)
	if err != nil {
		return err
	}
	defer c.recoverIntent(t, "connect", &err)

	// Subscribe first so a switch during the wallet prompt is not missed.
	c.startWatch()

	account, err := c.ledger.Connect(ctx)
	if err != nil {
		c.stopWatch()
		return c.fail(t, "connect", func() {
			s.state = StateIdle
			s.account = common.Address{}
			s.connected = false
			s.catalog = nil
			s.order = nil
		}, classify(err))
	}

	if !s.step(t, func() {
		s.account = account
		s.connected = true
		s.state = StateLoading
	}) {
		return s.finish(t, nil)
	}
	c.log.WithField("account", account.Hex()).Info("session connected")

	return c.loadAndSettle(ctx, t, "connect")
}

// Reload rebuilds the catalog. The previous catalog stays when it fails.
func (c *Coordinator) Reload(ctx context.Context) (err error) {
	s := c.session
	t, err := s.begin(s.isConnected, StateLoading)
	if err != nil {
		return err
	}
	defer c.recoverIntent(t, "reload", &err)
	return c.loadAndSettle(ctx, t, "reload")
}

// Order places an on-chain order for productID after re-checking that it is
// still available. A successful order replaces any unpaid current order.
func (c *Coordinator) Order(ctx context.Context, productID uint64) (err error) {
	if productID == 0 {
		return fmt.Errorf("%w: product ids start at 1", ErrValidationFailed)
	}
	s := c.session
	t, err := s.begin(s.isConnected, StateOrdering)
	if err != nil {
		return err
	}
	defer c.recoverIntent(t, "order", &err)
	restore := func() { s.state = t.prev }
	log := c.log.WithFields(logrus.Fields{"intent": "order", "product_id": productID})

	product, err := c.loader.Product(ctx, productID)
	if err != nil {
		return c.fail(t, "order", restore, classify(fmt.Errorf("read product %d: %w", productID, err)))
	}
	if !product.Available {
		return c.fail(t, "order", restore, fmt.Errorf("%w: product %d", ErrProductUnavailable, productID))
	}

	pending, err := c.ledger.Submit(ctx, contracts.MethodOrderProduct, nil, new(big.Int).SetUint64(productID))
	if err != nil {
		return c.fail(t, "order", restore, classify(err))
	}
	events, err := c.ledger.Confirm(ctx, pending)
	if err != nil {
		return c.fail(t, "order", restore, classify(err))
	}

	ev, ok := ledger.FindEvent(events, contracts.EventProductOrdered)
	if !ok {
		return c.fail(t, "order", restore, fmt.Errorf("%w: tx %s", ErrOrderEventMissing, pending.Hash.Hex()))
	}
	orderID, ok := ev.Uint("orderId")
	if !ok || orderID == nil {
		return c.fail(t, "order", restore, fmt.Errorf("%w: tx %s has no orderId", ErrOrderEventMissing, pending.Hash.Hex()))
	}

	order := &Order{
		OrderID:   new(big.Int).Set(orderID),
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		PriceWei:  new(big.Int).Set(product.PriceWei),
	}
	if err := s.finish(t, func() {
		s.order = order
		s.state = StateAwaitingPayment
	}); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"order_id": order.OrderID, "price": order.Price}).Info("order placed")
	return nil
}

// Pay settles the current order with a payment equal to its recorded price.
// On failure the order stays current so payment can be retried.
func (c *Coordinator) Pay(ctx context.Context) (err error) {
	s := c.session
	var order *Order
	t, err := s.begin(func() error {
		if s.state != StateAwaitingPayment || s.order == nil {
			return fmt.Errorf("%w: no order awaiting payment", ErrInvalidState)
		}
		order = s.order
		return nil
	}, StatePaying)
	if err != nil {
		return err
	}
	defer c.recoverIntent(t, "pay", &err)
	restore := func() {
		if s.order == order {
			s.state = StateAwaitingPayment
		} else {
			s.state = StateReady
		}
	}

	pending, err := c.ledger.Submit(ctx, contracts.MethodPayForOrder, order.PriceWei, order.OrderID)
	if err != nil {
		return c.fail(t, "pay", restore, classify(err))
	}
	if _, err := c.ledger.Confirm(ctx, pending); err != nil {
		return c.fail(t, "pay", restore, classify(err))
	}

	if !s.step(t, func() {
		order.Paid = true
		s.lastPaid = order
		if s.order == order {
			s.order = nil
		}
		s.state = StateLoading
	}) {
		return s.finish(t, nil)
	}
	c.log.WithFields(logrus.Fields{
		"intent":   "pay",
		"order_id": order.OrderID,
		"tx_hash":  pending.Hash.Hex(),
	}).Info("order paid")

	return c.refreshAfterCommit(ctx, t, "pay")
}

// Cancel drops the current order locally. The ledger is not contacted and
// an in-flight transaction is not aborted. Without a running intent the
// session moves to Ready, or Idle when no account is connected; a running
// intent keeps its state and settles it on finish.
func (c *Coordinator) Cancel() {
	s := c.session
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	if !s.busy {
		if s.connected {
			s.state = StateReady
		} else {
			s.state = StateIdle
		}
	}
	s.revision++
}

// AddProduct lists a new product at price (in ether) and reloads the catalog.
func (c *Coordinator) AddProduct(ctx context.Context, name, price string) (err error) {
	name = strings.TrimSpace(name)
	price = strings.TrimSpace(price)
	if name == "" || price == "" {
		return fmt.Errorf("%w: name and price are required", ErrValidationFailed)
	}
	wei, err := ledger.ParseEther(price)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if wei.Sign() == 0 {
		return fmt.Errorf("%w: price must be greater than zero", ErrValidationFailed)
	}

	s := c.session
	t, err := s.begin(s.isConnected, "")
	if err != nil {
		return err
	}
	defer c.recoverIntent(t, "add_product", &err)
	restore := func() { s.state = t.prev }

	pending, err := c.ledger.Submit(ctx, contracts.MethodAddProduct, nil, name, wei)
	if err != nil {
		return c.fail(t, "add_product", restore, classify(err))
	}
	if _, err := c.ledger.Confirm(ctx, pending); err != nil {
		return c.fail(t, "add_product", restore, classify(err))
	}
	c.log.WithFields(logrus.Fields{"intent": "add_product", "name": name, "price": price}).Info("product added")

	if !s.step(t, func() { s.state = StateLoading }) {
		return s.finish(t, nil)
	}
	return c.refreshAfterCommit(ctx, t, "add_product")
}

// Close tears down the account-change subscription.
func (c *Coordinator) Close() {
	c.stopWatch()
}

func (c *Coordinator) loadAndSettle(ctx context.Context, t ticket, intent string) error {
	s := c.session
	products, loadErr := c.loader.Load(ctx)
	if err := s.finish(t, func() { s.settle(products, loadErr) }); err != nil {
		return err
	}
	if loadErr != nil {
		c.log.WithError(loadErr).WithField("intent", intent).Warn("catalog load failed")
		return loadErr
	}
	return nil
}

// refreshAfterCommit reloads the catalog once a transaction is confirmed.
// The transaction stands either way, so a failed reload leaves the session in
// Error with the stale catalog and is not reported to the caller.
func (c *Coordinator) refreshAfterCommit(ctx context.Context, t ticket, intent string) error {
	err := c.loadAndSettle(ctx, t, intent)
	if errors.Is(err, catalog.ErrCatalogLoadFailed) {
		return nil
	}
	return err
}

// recoverIntent releases the busy gate when an intent panics and reports the
// panic as an error.
func (c *Coordinator) recoverIntent(t ticket, intent string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	c.session.abandon(t)
	c.log.WithFields(logrus.Fields{
		"intent": intent,
		"panic":  r,
	}).Error("intent aborted")
	*err = fmt.Errorf("%s aborted: %v", intent, r)
}

func (c *Coordinator) fail(t ticket, intent string, restore func(), err error) error {
	if ferr := c.session.finish(t, restore); ferr != nil {
		return ferr
	}
	c.log.WithError(err).WithFields(logrus.Fields{
		"intent": intent,
		"kind":   ErrorKind(err),
	}).Warn("intent failed")
	return err
}
