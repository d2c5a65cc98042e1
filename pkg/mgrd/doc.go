// Package mgrd is the manager-side transport: it accepts worker
// connections, speaks the pkg/wire line protocol over each one, and drives
// a pkg/dispatcher.Manager's pure state machine from the wire traffic. It
// is the manager-side counterpart to pkg/workerd.
package mgrd
