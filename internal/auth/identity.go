// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package auth

import "context"

// Identity is the decoded holder of a verified token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verifier validates a bearer token and returns the identity it encodes.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
