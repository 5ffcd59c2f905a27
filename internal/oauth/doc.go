// Package oauth drives the browser based "add account" flow.
//
// A [Controller] is owned by the add-account dialog. It prepares an authorization URL, lets the user open
// it, and completes the flow through one of three paths: an asynchronous completion signal (the desktop
// shell's callback event or a hit on the local redirect listener), an explicit "I finished" action, or a
// pasted authorization code.
//
// The paths race. A signal is only honoured while the dialog is open on the OAuth tab, a URL is prepared,
// and no exchange is running or has succeeded. The controller reads that state under its lock when the
// signal arrives, so a signal can never trigger a second exchange after an explicit path started one.
//
// Leaving the OAuth tab or closing the dialog releases whatever the prepared flow reserved: the shell's
// pending login on the bridge, or the local redirect port on the network.
package oauth
