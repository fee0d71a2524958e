package client

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("client: pool closed")

// Pool lends Sessions to concurrent callers. A Session is driven by one goroutine at a
// time, so each caller borrows one exclusively and returns it with Put.
//
// The pool uses a buffered channel as its free list and a second one as slots: a slot
// is held by every dialled session until it is discarded. Sessions are dialled lazily;
// a caller blocks until a session is Put back or a slot opens.
type Pool struct {
	client  *Client
	service string

	free  chan *Session
	slots chan struct{}
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool of at most maxSessions sessions to service.
func (c *Client) NewPool(service string, maxSessions int) *Pool {
	maxSessions = max(maxSessions, 1)
	return &Pool{
		client:  c,
		service: service,
		free:    make(chan *Session, maxSessions),
		slots:   make(chan struct{}, maxSessions),
		done:    make(chan struct{}),
	}
}

// Get borrows a session. Strategy:
//  1. Take an idle session if one is free
//  2. Otherwise wait for whichever comes first: a Put, an open slot to dial into, or
//     the end of ctx
func (p *Pool) Get(ctx context.Context) (*Session, error) {
	select {
	case s, ok := <-p.free:
		if !ok {
			return nil, ErrPoolClosed
		}
		return s, nil
	default:
	}

	select {
	case s, ok := <-p.free:
		if !ok {
			return nil, ErrPoolClosed
		}
		return s, nil
	case p.slots <- struct{}{}:
		return p.dial(ctx)
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dial fills a slot the caller already holds.
func (p *Pool) dial(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		<-p.slots
		return nil, ErrPoolClosed
	}
	s, err := p.client.Dial(ctx, p.service)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return s, nil
}

// Put returns a borrowed session. Sessions whose connection has ended are closed and
// discarded, which frees their slot for a waiting Get.
func (p *Pool) Put(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || s.Conn().State().Terminal() {
		s.Close()
		<-p.slots
		return
	}
	p.free <- s
}

// Len is the number of sessions currently dialled, idle or lent out.
func (p *Pool) Len() int {
	return len(p.slots)
}

// Close closes idle sessions. Sessions still lent out are closed when they are Put.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	close(p.free)
	for s := range p.free {
		s.Close()
		<-p.slots
	}
	return nil
}
