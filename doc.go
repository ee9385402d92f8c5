// Package vauth provides the credential lifecycle engine for a multi-tenant
// metrics ingestion platform: JWT access tokens paired with rotating opaque
// refresh tokens, and long-lived API keys with scoped authorization and
// Redis-backed per-key rate limits.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// vauth is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (TokenPair, APIKeySummary, MetricsSnapshot, etc.). All internal
// coordination — flow orchestration, secret generation, rate limiting, audit
// dispatch — lives under internal/ and is never exported. Storage models and
// their stores live in the token and apikey sub-packages.
//
// # What this package must NOT do
//
//   - Expose Redis clients, gorm handles, or digest details in its public API.
//   - Authenticate users. The caller proves identity; the engine manages the
//     credentials that follow.
//   - Persist or log any plaintext secret. Refresh tokens and API keys are
//     returned once and only their SHA-256 digests are stored.
//
// # Security contract
//
// Rotation is single-use by construction: consuming a refresh token is a
// conditional update, so concurrent presentations of the same token admit
// exactly one winner. The loser, and any presentation of an already-consumed
// token, revokes the entire family. API key validation compares digests in
// constant time across every prefix candidate.
package vauth
