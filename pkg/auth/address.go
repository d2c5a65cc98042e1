package auth

import (
	"time"

	"github.com/ccl/workqueue/pkg/wire"
)

// AddressMethod trusts the peer's numeric TCP address as its subject. It is
// the weakest method in the chain and exists mainly as a fallback and for
// tests; production deployments should order it after hostname/ticket.
func AddressMethod() Method {
	return Method{
		Name: "address",
		Assert: func(link *wire.Link, deadline time.Time) error {
			return nil
		},
		Accept: func(link *wire.Link, deadline time.Time) (string, error) {
			host, _ := link.RemoteAddress()
			return host, nil
		},
	}
}
