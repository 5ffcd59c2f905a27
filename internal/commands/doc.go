// Package commands is the static registry of backend commands.
//
// Each command has a stable [Name] shared by both transports. The native bridge forwards the name and
// arguments unchanged. The network transport looks up the [Descriptor] to find the admin API path, the HTTP
// verb, how to reshape arguments into a request body, and whether the response needs a bespoke unwrap.
//
// A few commands only exist on the native bridge. [IsNoop] names the ones that silently do nothing on the
// network transport; the rest are unsupported there.
//
// [Verify] is run at startup so a typo in a command name fails before any request is made.
package commands
