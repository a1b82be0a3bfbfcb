// Package core hosts the document conversion wizard.
//
// This package holds the wizard's orchestration independent of any UI or
// transport layer. The web server and the CLI both drive it.
//
// # Architecture
//
// A [Service] owns many wizards, each a [Wizard] keyed by ID in a
// [SessionStore] with a sliding TTL. A wizard combines:
//
//   - a workflow.Machine: the four steps and which of them may be visited
//   - a review.Reconciler: the document, its table rows and its raw text
//   - the current conversion, if any, with its progress listeners
//   - the last validation report and the last error
//
// Every change to a wizard happens under its lock, so [Service.Snapshot]
// never sees a half-applied update.
//
// # Conversion
//
//  1. Client calls [Service.StartConversion] with the uploaded bytes
//  2. [PreflightPDF] rejects empty, oversized and non-PDF uploads
//  3. A [ConversionLimiter] slot is acquired; the previous conversion of
//     the wizard is cancelled
//  4. The backend's /convert stream feeds an ingestion session; progress
//     is broadcast to subscribers via [Service.SubscribeProgress]
//  5. On success, and only if it is still the wizard's current conversion,
//     the wizard moves to review
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - TRN: backend transport (timeout, unreachable, error status)
//   - PRS: stream protocol (malformed or missing JSON result)
//   - REC: review edits (invalid raw JSON, unsaved edits)
//   - VAL, WIZ: validation and step gating
//   - FILE, UPL, RATE: uploads and limits
//
// # Audit Logging
//
// Wizard events (conversions, saves, validations, downloads, resets) are
// recorded through an [AuditStore]: PostgreSQL when a database is
// configured, the structured log otherwise. Old entries are purged on a
// schedule.
package core
