// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package auth

// Error codes returned by verifier and issuer operations.
const (
	CodeTokenMissing  = "AUTH_TOKEN_MISSING"
	CodeTokenInvalid  = "AUTH_TOKEN_INVALID"
	CodeTokenExpired  = "AUTH_TOKEN_EXPIRED"
	CodeSecretMissing = "AUTH_SECRET_MISSING"
)
