// Package repositories implements SQLite persistence for the client's local state.
//
// Key Implementations:
//   - [CookieRepository] : admin session cookies keyed by backend host and cookie name
//   - [PersistentJar] : an [http.CookieJar] that mirrors the session cookie into [CookieRepository] so a login
//     survives between CLI invocations
//   - [ImportRunRepository] : history of batch credential imports
//
// Both repositories implement [models.Repository]. Tables are created by the embedded migrations in the
// shared package.
package repositories
