// Package server provides the local HTTP listener that captures OAuth browser redirects.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Callback Handler
//
// [CallbackHandler] accepts exactly one redirect on /callback. It does not exchange the code: the admin
// backend owns the client secret, so the handler only reports the code (or the provider's error) through a
// channel.
//
// # Callback Server
//
// [CallbackServer] reserves the redirect port when the authorization URL is prepared and frees it when
// the flow succeeds, is cancelled, or the dialog closes.
package server
