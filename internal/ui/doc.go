// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The shell is gated by the [session.Guard] snapshot:
//  1. Placeholder : spinner while the session is probed or a request is in flight
//  2. Login : setup form (password + confirmation) or login form with masked input
//  3. Accounts : bubbles list of accounts with switch, delete and quota refresh
//  4. Add dialog : OAuth, Token and Import tabs over [oauth.Controller] and [tasks.Importer]
//
// Guard snapshots and OAuth sessions arrive over subscription channels and are re-armed after every message.
// An unauthorized error from any protected call forces the guard back to login, which the shell follows.
package ui
