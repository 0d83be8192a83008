// Package client contains client-side building blocks for FinKeeper.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) to talk to
//     the FinKeeper backend: Ping, BulkSync, List, Delete and receipt URLs.
//  2. A concrete HTTP JSON implementation (see HTTPClient) that injects the
//     bearer token, applies a per-request timeout and maps transport failures
//     and status codes to sentinel errors.
//  3. A gRPC health prober (see HealthProber) usable by the connectivity monitor.
//  4. Local persistence bootstrap utilities (InitDatabase, RunMigrations) that
//     open SQLite in WAL mode and apply the embedded goose migrations.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable, ErrUnauthorized, ErrLocalDataNotAvailable.
package client
