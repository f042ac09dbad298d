// Package gatewaytest provides an in-memory game server for tests of code built on gateway.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"battleships/cmd/internal/gateway"
	v1 "battleships/contracts/battle/v1"
)

// Call is one event emitted by the client.
type Call struct {
	Event   string
	Payload json.RawMessage
}

// Responder produces the reply to a request. A non-empty errMsg becomes {"error": errMsg}.
type Responder func(payload json.RawMessage) (resp any, errMsg string)

// Server records client emissions and delivers replies and pushes. Deliveries are
// serialized, mirroring a single socket reader.
type Server struct {
	mu        sync.Mutex
	calls     []Call
	notify    chan struct{}
	responder map[string]Responder
	sink      gateway.Sink
	dialErr   error
	dials     int
	closes    int
	emitErr   error

	deliverMu sync.Mutex
}

func New() *Server {
	return &Server{
		notify:    make(chan struct{}, 1),
		responder: make(map[string]Responder),
	}
}

// Dialer returns a gateway.Dialer connected to this server.
func (s *Server) Dialer() gateway.Dialer {
	return func(_ context.Context, sink gateway.Sink) (gateway.Channel, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dials++
		if s.dialErr != nil {
			return nil, s.dialErr
		}
		s.sink = sink
		return &channel{srv: s}, nil
	}
}

// FailDial makes the next dials fail with err.
func (s *Server) FailDial(err error) {
	s.mu.Lock()
	s.dialErr = err
	s.mu.Unlock()
}

// FailEmit makes client emissions fail with err.
func (s *Server) FailEmit(err error) {
	s.mu.Lock()
	s.emitErr = err
	s.mu.Unlock()
}

// Handle installs an automatic reply for request event. The reply is delivered
// before the client's Emit returns.
func (s *Server) Handle(event string, fn Responder) {
	s.mu.Lock()
	s.responder[event] = fn
	s.mu.Unlock()
}

// Reply installs an automatic reply that always returns resp.
func (s *Server) Reply(event string, resp any) {
	s.Handle(event, func(json.RawMessage) (any, string) { return resp, "" })
}

// Reject installs an automatic error reply.
func (s *Server) Reject(event, msg string) {
	s.Handle(event, func(json.RawMessage) (any, string) { return nil, msg })
}

// Respond delivers a reply to event now.
func (s *Server) Respond(t testing.TB, event string, resp any, errMsg string) {
	t.Helper()

	r := v1.Reply{Error: errMsg}
	if resp != nil {
		b, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		r.Response = b
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	s.deliver(v1.ResponseType(event), b)
}

// Push delivers a server push. It returns after every listener ran.
func (s *Server) Push(t testing.TB, event string, payload any) {
	t.Helper()

	var b json.RawMessage
	if payload != nil {
		var err error
		if b, err = json.Marshal(payload); err != nil {
			t.Fatalf("marshal push: %v", err)
		}
	}
	s.deliver(event, b)
}

// Drop simulates the connection ending from the server side.
func (s *Server) Drop(reason string) {
	b, _ := json.Marshal(reason)
	s.deliver(gateway.EventDisconnect, b)
}

func (s *Server) deliver(event string, payload json.RawMessage) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	sink(event, payload)
}

// Calls returns every emission so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times event was emitted.
func (s *Server) Count(event string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Event == event {
			n++
		}
	}
	return n
}

// Last returns the latest emission of event.
func (s *Server) Last(event string) (Call, bool) {
	calls := s.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Event == event {
			return calls[i], true
		}
	}
	return Call{}, false
}

// WaitCall blocks until event has been emitted at least n times.
func (s *Server) WaitCall(t testing.TB, event string, n int) Call {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		calls := s.Calls()
		seen := 0
		for _, c := range calls {
			if c.Event == event {
				seen++
				if seen == n {
					return c
				}
			}
		}
		select {
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timeout waiting for %q #%d; calls=%v", event, n, calls)
			return Call{}
		}
	}
}

// Dials returns how many channels were opened.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Closes returns how many times a channel was closed.
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type channel struct {
	srv    *Server
	mu     sync.Mutex
	closed bool
}

func (c *channel) Emit(_ context.Context, event string, payload json.RawMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("gatewaytest: channel closed")
	}

	s := c.srv
	s.mu.Lock()
	if s.emitErr != nil {
		err := s.emitErr
		s.mu.Unlock()
		return err
	}
	s.calls = append(s.calls, Call{Event: event, Payload: append(json.RawMessage(nil), payload...)})
	fn := s.responder[event]
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	if fn != nil {
		resp, errMsg := fn(payload)
		r := v1.Reply{Error: errMsg}
		if resp != nil {
			b, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("gatewaytest: marshal %s response: %w", event, err)
			}
			r.Response = b
		}
		b, _ := json.Marshal(r)
		s.deliver(v1.ResponseType(event), b)
	}
	return nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.srv.mu.Lock()
		c.srv.closes++
		c.srv.mu.Unlock()
	}
	return nil
}
