/*
Package auth implements the ordered, pluggable authentication chain
negotiated between a worker and a manager before any task traffic flows.

# Negotiation

Chain.Assert (client) and Chain.Accept (server) implement a simple
offer/accept protocol over a wire.Link: the client proposes methods in
order, the server accepts the first one it has registered, and on success
both sides agree on an (authType, subject) pair. Per offered method the
client sends the method name and the server answers "yes" or "no"; after
"yes" the method's own handshake runs, and on success the server sends
"ack", the method name, and the sanitized subject, one line each.

# Methods

AddressMethod, HostnameMethod, UnixMethod, TicketMethod, and CertMethod
are the built-in methods. Each is a stateless Method value and may be
shared across connections; Method implementations must not close over
per-connection mutable state, since the same Chain drives many concurrent
negotiations.

Binding an external credential system (Globus, Kerberos) is a matter of
constructing another Method with the matching Name and Assert/Accept
functions; the chain mechanics don't change.
*/
package auth
