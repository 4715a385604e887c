// Package feed runs the background producer that moves quotes from a
// fetcher into the quote cache and on to rule evaluation.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/fetcher"
	"github.com/rustyeddy/papertrader/market"
)

var (
	ErrAlreadyStarted = errors.New("feed already started")
	ErrNotStarted     = errors.New("feed not started")
)

// Handler receives every quote the cache accepted. *rules.Evaluator
// implements it.
type Handler interface {
	OnQuote(ctx context.Context, q market.Quote)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, q market.Quote)

func (f HandlerFunc) OnQuote(ctx context.Context, q market.Quote) { f(ctx, q) }

// Stats counts quotes seen by the service.
type Stats struct {
	Received   int64
	Accepted   int64
	Discarded  int64
	Dispatched int64
	Queue      QueueStats
}

// Service is the single writer of the quote cache. Evaluation runs on a
// separate dispatcher goroutine behind an unbounded queue so a slow rule
// never holds up cache updates.
type Service struct {
	src     fetcher.Fetcher
	cache   *market.QuoteCache
	handler Handler
	symbols []string
	log     *zap.Logger

	mu             sync.Mutex
	started        bool
	queue          *Queue[market.Quote]
	cancelFetch    context.CancelFunc
	cancelDispatch context.CancelFunc
	producerDone   chan struct{}
	dispatchDone   chan struct{}

	received   atomic.Int64
	accepted   atomic.Int64
	discarded  atomic.Int64
	dispatched atomic.Int64
}

// New wires src into cache. handler may be nil when nothing evaluates
// quotes.
func New(src fetcher.Fetcher, cache *market.QuoteCache, handler Handler, symbols []string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if handler == nil {
		handler = HandlerFunc(func(context.Context, market.Quote) {})
	}
	return &Service{
		src:     src,
		cache:   cache,
		handler: handler,
		symbols: symbols,
		log:     log.Named("feed"),
	}
}

// Start subscribes and launches the producer and dispatcher.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	ch, err := s.src.Subscribe(fetchCtx, s.symbols)
	if err != nil {
		cancelFetch()
		return fmt.Errorf("subscribe: %w", err)
	}
	// Enqueued quotes still reach the handler after the fetch is cancelled.
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))

	s.started = true
	s.queue = NewQueue[market.Quote](64)
	s.cancelFetch = cancelFetch
	s.cancelDispatch = cancelDispatch
	s.producerDone = make(chan struct{})
	s.dispatchDone = make(chan struct{})

	go s.produce(fetchCtx, ch)
	go s.dispatch(dispatchCtx)

	s.log.Info("feed started", zap.Strings("symbols", s.symbols))
	return nil
}

func (s *Service) produce(ctx context.Context, ch <-chan market.Quote) {
	defer close(s.producerDone)
	defer s.queue.Close()

	for q := range ch {
		s.received.Add(1)
		if !s.cache.Update(q) {
			s.discarded.Add(1)
			continue
		}
		s.accepted.Add(1)
		s.queue.Push(q)
	}

	if ctx.Err() == nil {
		s.log.Warn("quote source closed",
			zap.Error(fetcher.ErrFetchInterrupted),
			zap.Int64("received", s.received.Load()),
		)
	}
}

func (s *Service) dispatch(ctx context.Context) {
	defer close(s.dispatchDone)
	for {
		q, ok := s.queue.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			continue
		}
		s.handler.OnQuote(ctx, q)
		s.dispatched.Add(1)
	}
}

// Done is closed once the source is exhausted and every accepted quote has
// been dispatched.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	return s.dispatchDone
}

// Stop cancels the subscription, waits for the in-flight cache update and
// then for the dispatcher to drain the queue. If ctx ends first, queued
// quotes are skipped and ctx's error is returned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	cancelFetch, cancelDispatch := s.cancelFetch, s.cancelDispatch
	producerDone, dispatchDone := s.producerDone, s.dispatchDone
	s.mu.Unlock()

	cancelFetch()
	defer cancelDispatch()

	select {
	case <-producerDone:
	case <-ctx.Done():
		// The fetcher did not honour cancellation in time.
		s.queue.Close()
		cancelDispatch()
		return ctx.Err()
	}

	select {
	case <-dispatchDone:
	case <-ctx.Done():
		cancelDispatch()
		return ctx.Err()
	}

	st := s.Stats()
	s.log.Info("feed stopped",
		zap.Int64("received", st.Received),
		zap.Int64("accepted", st.Accepted),
		zap.Int64("dispatched", st.Dispatched),
	)
	return nil
}

func (s *Service) Stats() Stats {
	st := Stats{
		Received:   s.received.Load(),
		Accepted:   s.accepted.Load(),
		Discarded:  s.discarded.Load(),
		Dispatched: s.dispatched.Load(),
	}
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q != nil {
		st.Queue = q.Stats()
	}
	return st
}
