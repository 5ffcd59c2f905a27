// Package services exposes the admin API as typed Go methods.
//
// # Admin Service
//
// [AdminService] has one method per registry command. Every method goes through a [dispatch.Sender], so the
// same code runs over the network transport and the native bridge. Arguments are checked locally before
// dispatch where the backend would only reject them anyway (missing ids, empty mappings, missing tokens).
//
// Results are decoded into the wire types in the models package. Commands that answer with no value decode to
// zero values; [AdminService.CurrentAccount] returns nil when no account is selected.
//
// # Readiness
//
// [AdminService.WaitReady] polls health_check until the backend reports ok. The CLI uses it as the gate before
// running commands against a backend that is still starting.
//
// # Refresh
//
// [Refresher] reloads the account list and refreshes every quota after credentials were added. The OAuth
// controller and the importer call it best-effort.
//
// # Error Handling
//
// Dispatch failures are returned unchanged as [*dispatch.Error]; local argument problems wrap
// [shared.ErrMissingArgument] or [shared.ErrValidation].
package services
