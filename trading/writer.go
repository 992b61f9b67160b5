package trading

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openalpha/spot-exchange/bus"
	"github.com/openalpha/spot-exchange/ledger"
)

// pairWriter is the single serializer for one pair: every match and cancel
// on the pair runs on its goroutine, so book walks, order mutations and the
// consequent ledger debits never race within a pair.

type jobKind int

const (
	jobMatch jobKind = iota
	jobCancel
)

type job struct {
	kind  jobKind
	order *Order
	reply chan jobReply
}

type jobReply struct {
	result *MatchResult
	err    error
}

type pairWriter struct {
	symbol string
	ch     chan job
	quit   chan struct{}
	once   sync.Once
	svc    *Service

	// Snapshot cadence bookkeeping, touched only by the writer goroutine.
	deltasSince  int
	lastSnapshot time.Time
}

// writer returns the pair's writer, starting it on first use.
func (s *Service) writer(symbol string) *pairWriter {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	w, ok := s.writers[symbol]
	if !ok {
		w = &pairWriter{
			symbol: symbol,
			ch:     make(chan job, s.queueSize),
			quit:   make(chan struct{}),
			svc:    s,
		}
		s.writers[symbol] = w
		go w.loop()
	}
	return w
}

func (w *pairWriter) full() bool {
	return len(w.ch) >= cap(w.ch)
}

// run enqueues a job and waits for the writer to finish it. Enqueueing is
// bounded by deadline; once accepted, the wait is unbounded because the
// writer never suspends mid-step.
func (w *pairWriter) run(j job, deadline time.Duration) (jobReply, error) {
	j.reply = make(chan jobReply, 1)
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case w.ch <- j:
	case <-timer.C:
		return jobReply{}, fmt.Errorf("%w: pair %s queue full", ErrOverloaded, w.symbol)
	case <-w.quit:
		return jobReply{}, fmt.Errorf("%w: pair %s writer stopped", ErrOverloaded, w.symbol)
	}

	select {
	case r := <-j.reply:
		return r, nil
	case <-w.quit:
		return jobReply{}, fmt.Errorf("%w: pair %s writer stopped", ErrOverloaded, w.symbol)
	}
}

func (w *pairWriter) stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *pairWriter) loop() {
	for {
		select {
		case j := <-w.ch:
			switch j.kind {
			case jobMatch:
				j.reply <- w.match(j.order)
			case jobCancel:
				j.reply <- w.cancel(j.order)
			}
		case <-w.quit:
			return
		}
	}
}

func (w *pairWriter) match(o *Order) jobReply {
	res, err := w.svc.engine.Process(o)
	if err != nil {
		w.svc.log.Debug("order resolved with error",
			zap.String("order_id", o.ID),
			zap.String("symbol", w.symbol),
			zap.Error(err))
	}
	w.svc.orders.Save(o)
	w.svc.publishOrder(o)
	w.publishBook()
	return jobReply{result: res, err: err}
}

func (w *pairWriter) cancel(o *Order) jobReply {
	if o.Status.Terminal() {
		return jobReply{}
	}

	w.svc.engine.CancelResting(o)
	if o.ReservedRemaining.IsPositive() {
		w.svc.ledger.Unfreeze(
			ledger.Key{UserID: o.UserID, Currency: o.ReservedCurrency},
			o.ReservedRemaining, o.ID, "order cancelled")
		o.ReservedRemaining = decimal.Zero
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	w.svc.orders.Save(o)
	w.svc.publishOrder(o)
	w.publishBook()
	return jobReply{}
}

// publishBook emits the level deltas the last job produced, plus a full
// snapshot when the book was rebuilt or the cadence trips. First call
// always snapshots (lastSnapshot is zero).
func (w *pairWriter) publishBook() {
	s := w.svc
	if s.events == nil {
		return
	}
	deltas, resync := s.engine.BookDeltas(w.symbol)
	for _, d := range deltas {
		s.events.Publish(bus.BookTopic(w.symbol), "orderbook_update", d)
	}
	w.deltasSince += len(deltas)
	if resync || w.deltasSince >= s.snapEvery || time.Since(w.lastSnapshot) >= s.snapInterval {
		s.events.Publish(bus.BookTopic(w.symbol), "orderbook_data",
			s.engine.BookSnapshot(w.symbol, bookPublishDepth))
		w.deltasSince = 0
		w.lastSnapshot = time.Now()
	}
}
