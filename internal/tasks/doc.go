// Package tasks runs multi-step account operations with real-time progress reporting.
//
// # Batch import
//
// [Importer] turns pasted text or a structured file into candidate refresh tokens and submits them one at a time
// through an [Adder]:
//
//  1. [Importer.ImportText] : free-form or JSON-array paste
//     - A trimmed input shaped like a JSON array is parsed and each element's refresh_token is collected
//     - When nothing was collected the raw text is scanned for token-shaped substrings
//     - Duplicates are dropped, keeping first-occurrence order
//
//  2. [Importer.ImportFile] / [Importer.ImportList] : JSON or YAML account lists
//     - Content must be an array; anything else fails before any call is made
//     - Tokens must match the token shape exactly; emails are carried through
//     - A best-effort quota refresh follows a successful or partial run
//
// Items are throttled with a [rate.Limiter] and a failing item never stops the batch. The [Result] carries
// counters that always add up, an [Outcome], and a one-line summary.
//
// # Quota sweep
//
// [SweepQuotas] refreshes quotas account by account with a small worker pool, for backends where the
// all-accounts refresh is too coarse.
//
// # Progress Reporting
//
// Operations accept an optional ProgressUpdate channel. Sends never block; a full channel drops the update.
package tasks
