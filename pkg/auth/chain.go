// Package auth implements the pluggable authentication chain (C2): an
// ordered list of interchangeable methods that a worker and manager
// negotiate over a Link before any task traffic flows.
package auth

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/ccl/workqueue/pkg/wire"
)

// ErrAccessDenied is returned when every method in the chain has been tried
// (client side) or when a credential was definitively rejected rather than
// merely unsupported (server side never returns it; only Assert does).
var ErrAccessDenied = errors.New("auth: access denied")

// ErrPeerGone mirrors wire.ErrEndOfStream for callers that only import
// this package.
var ErrPeerGone = errors.New("auth: peer gone")

// AssertFunc performs the client-side half of one method's handshake after
// the server has agreed to attempt it. It does not return a subject; the
// subject and type are read generically by Chain.Assert once the method
// signals success.
type AssertFunc func(link *wire.Link, deadline time.Time) error

// AcceptFunc performs the server-side half of one method's handshake and
// returns the subject it established.
type AcceptFunc func(link *wire.Link, deadline time.Time) (string, error)

// Method is one entry in the chain. Implementations must not close over
// mutable state shared between Assert and Accept invocations: the same
// Method value may run concurrently across many connections.
type Method struct {
	Name   string
	Assert AssertFunc
	Accept AcceptFunc
}

// Chain is a static, ordered list of methods. It is safe to share a single
// Chain across goroutines: Clone exists for callers that want an
// independent copy to mutate (e.g. append a method) without affecting the
// original.
type Chain struct {
	methods []Method
}

// NewChain builds a chain from the given methods, tried in order.
func NewChain(methods ...Method) *Chain {
	c := &Chain{methods: make([]Method, len(methods))}
	copy(c.methods, methods)
	return c
}

// Clone returns an independent copy whose method slice can be extended
// without aliasing the receiver's backing array.
func (c *Chain) Clone() *Chain {
	return NewChain(c.methods...)
}

// Assert runs the client side of negotiation: offer each method in order
// until one is accepted and completes, or every method is exhausted.
func (c *Chain) Assert(link *wire.Link, deadline time.Time) (authType, subject string, err error) {
	for _, m := range c.methods {
		if err := link.Printf(deadline, "%s", m.Name); err != nil {
			return "", "", pkgerrors.Wrapf(err, "auth: offer %s", m.Name)
		}
		reply, err := link.ReadLine(deadline)
		if err != nil {
			return "", "", mapPeerError(err)
		}
		if reply != "yes" {
			continue
		}
		if m.Assert == nil {
			continue
		}
		if err := m.Assert(link, deadline); err != nil {
			if errors.Is(err, ErrAccessDenied) {
				return "", "", ErrAccessDenied
			}
			continue
		}
		if _, err := link.ReadLine(deadline); err != nil { // ack
			return "", "", mapPeerError(err)
		}
		authType, err = link.ReadLine(deadline)
		if err != nil {
			return "", "", mapPeerError(err)
		}
		rawSubject, err := link.ReadLine(deadline)
		if err != nil {
			return "", "", mapPeerError(err)
		}
		return authType, Sanitize(rawSubject), nil
	}
	return "", "", ErrAccessDenied
}

// Accept runs the server side: read method offers until one registered
// method completes successfully.
func (c *Chain) Accept(link *wire.Link, deadline time.Time) (authType, subject string, err error) {
	for {
		name, err := link.ReadLine(deadline)
		if err != nil {
			return "", "", mapPeerError(err)
		}
		m, ok := c.find(name)
		if !ok {
			if err := link.Printf(deadline, "no"); err != nil {
				return "", "", pkgerrors.Wrapf(err, "auth: reject %s", name)
			}
			continue
		}
		if err := link.Printf(deadline, "yes"); err != nil {
			return "", "", pkgerrors.Wrapf(err, "auth: accept %s", name)
		}
		rawSubject, err := m.Accept(link, deadline)
		if err != nil {
			if err := link.Printf(deadline, "no"); err != nil {
				return "", "", pkgerrors.Wrapf(err, "auth: reject after failed %s", name)
			}
			continue
		}
		if err := link.Printf(deadline, "ack"); err != nil {
			return "", "", pkgerrors.Wrapf(err, "auth: ack %s", name)
		}
		if err := link.Printf(deadline, "%s", m.Name); err != nil {
			return "", "", pkgerrors.Wrapf(err, "auth: send type %s", name)
		}
		sanitized := Sanitize(rawSubject)
		if err := link.Printf(deadline, "%s", sanitized); err != nil {
			return "", "", pkgerrors.Wrapf(err, "auth: send subject %s", name)
		}
		return m.Name, sanitized, nil
	}
}

func (c *Chain) find(name string) (Method, bool) {
	for _, m := range c.methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

func mapPeerError(err error) error {
	if errors.Is(err, wire.ErrEndOfStream) {
		return ErrPeerGone
	}
	return pkgerrors.Wrap(err, "auth")
}
