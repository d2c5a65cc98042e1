package auth

import (
	"fmt"
	"time"

	"github.com/ccl/workqueue/pkg/wire"
)

// CertMethod trusts the peer's TLS client certificate, when the link was
// established over TLS. The subject is the leaf certificate's common name.
// It is a no-op assert: the credential was already presented during the
// TLS handshake itself, before the auth chain ever runs.
func CertMethod() Method {
	return Method{
		Name: "cert",
		Assert: func(link *wire.Link, deadline time.Time) error {
			return nil
		},
		Accept: func(link *wire.Link, deadline time.Time) (string, error) {
			state, ok := link.TLSConnectionState()
			if !ok || len(state.PeerCertificates) == 0 {
				return "", fmt.Errorf("auth: cert: connection did not present a client certificate")
			}
			return state.PeerCertificates[0].Subject.CommonName, nil
		},
	}
}
