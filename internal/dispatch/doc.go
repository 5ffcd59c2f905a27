// Package dispatch sends named commands to the backend through whichever transport is active.
//
// Exactly one [Transport] is chosen when the process starts ([Detect]): the [BridgeTransport] when running
// inside the desktop shell, otherwise the [NetworkTransport] talking to the admin API. Callers only see
// [Dispatcher.Dispatch], a [Result] and, on failure, an [*Error] whose Kind tells transport failures,
// bridge failures, backend rejections, missing sessions and unknown commands apart.
//
// # Envelope
//
// Admin API responses wrap payloads as {"status": "success", "data": ...} or
// {"status": "error", "message": "..."}. A 2xx response with status "error" is still a failure.
// An empty body is an empty [Result], not an error.
package dispatch
