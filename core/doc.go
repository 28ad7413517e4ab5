// Package core defines the domain model shared by the Argus subsystems.
//
// The core package provides:
//   - Domain types (Alert, AlertRule, ErrorInfo, ErrorGroup, AuditEvent, etc.)
//   - Constants and enums for severities, statuses and classifications
//   - Fingerprint generation for deduplication
//   - Shared infrastructure (worker pool, circuit breaker)
//
// Services consuming these types define their own narrow interfaces where
// they are used, accept interfaces and return concrete types, and take a
// context.Context on blocking operations.
package core
