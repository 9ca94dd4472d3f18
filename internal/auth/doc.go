// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

// Package auth verifies and issues the bearer credentials presented by
// real-time clients.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with a shared secret. The subject claim carries
// the user id and the "email" claim the user's address:
//   - JWTVerifier checks signature, expiry and (optionally) issuer
//   - JWTIssuer mints tokens for development and tests
//
// Both are created with constructors that reject an empty secret.
package auth
