// Package models defines the data types exchanged with the admin backend and the records agx persists locally.
//
// The package contains two categories of types:
//
// 1. Wire types: payloads returned by backend commands
//   - [Account] : A stored upstream account with its quota snapshot
//   - [RefreshStats] : Outcome counters of a bulk quota refresh
//   - [ProxyStatus], [ProxyStats], [ProxyLog] : Proxy service state and monitor data
//   - [AuthStatus] : Whether an admin password exists and the session is valid
//
// 2. Persistent entities: rows in the local sqlite database
//   - [ImportRun] : One batch credential import and its counters
//   - [StoredCookie] : A session cookie kept between CLI runs
//
// Persistent entities implement [Model]; [Repository] is the CRUD contract their stores follow.
package models
