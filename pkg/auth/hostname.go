package auth

import (
	"fmt"
	"net"
	"time"

	"github.com/ccl/workqueue/pkg/wire"
)

// HostnameMethod trusts a reverse-DNS lookup of the peer's address. Lookup
// failure rejects the attempt rather than falling back to the address, so
// the chain should list a weaker method after this one if that fallback is
// desired.
func HostnameMethod() Method {
	return Method{
		Name: "hostname",
		Assert: func(link *wire.Link, deadline time.Time) error {
			return nil
		},
		Accept: func(link *wire.Link, deadline time.Time) (string, error) {
			host, _ := link.RemoteAddress()
			names, err := net.LookupAddr(host)
			if err != nil || len(names) == 0 {
				return "", fmt.Errorf("auth: reverse lookup of %s: %w", host, err)
			}
			return names[0], nil
		},
	}
}
