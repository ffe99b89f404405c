package shop

import (
	"sync"

	"nexuspay/internal/ledger"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// watcher owns one account-change subscription. It fires at most once.
type watcher struct {
	sub  event.Subscription
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func (w *watcher) run(ch <-chan ledger.AccountChange, onChange func(ledger.AccountChange)) {
	defer close(w.done)
	defer w.sub.Unsubscribe()

	select {
	case change := <-ch:
		onChange(change)
	case <-w.sub.Err():
	case <-w.quit:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}

func (c *Coordinator) startWatch() {
	ch := make(chan ledger.AccountChange, 1)
	w := &watcher{
		sub:  c.ledger.SubscribeAccountChanges(ch),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.watchMu.Lock()
	old := c.watch
	c.watch = w
	c.watchMu.Unlock()
	if old != nil {
		old.stop()
	}

	go w.run(ch, func(change ledger.AccountChange) {
		c.accountChanged(w, change)
	})
}

func (c *Coordinator) stopWatch() {
	c.watchMu.Lock()
	w := c.watch
	c.watch = nil
	c.watchMu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (c *Coordinator) accountChanged(w *watcher, change ledger.AccountChange) {
	c.watchMu.Lock()
	if c.watch == w {
		c.watch = nil
	}
	c.watchMu.Unlock()

	c.log.WithFields(logrus.Fields{
		"previous": change.Previous.Hex(),
		"account":  change.Account.Hex(),
	}).Warn("wallet account changed, session invalidated")
	c.session.invalidate()
}
