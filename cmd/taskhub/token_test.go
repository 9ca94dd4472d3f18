// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub/internal/auth"
	"github.com/taskhub/taskhub/internal/config"
	"github.com/taskhub/taskhub/pkg/errutil"
)

func TestTokenConfig_Validate(t *testing.T) {
	errutil.AssertErrorCode(t, (&tokenConfig{}).Validate(), config.CodeInvalid)
	errutil.AssertErrorCode(t, (&tokenConfig{userID: "u1", ttl: -time.Second}).Validate(), config.CodeInvalid)
	assert.NoError(t, (&tokenConfig{userID: "u1"}).Validate())
}

func TestTokenCommand_MintsVerifiableToken(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKHUB_JWT_SECRET", "cli-secret")
	t.Setenv("TASKHUB_JWT_ISSUER", "taskhub")
	configFile = ""

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"token", "--user-id", "u1", "--email", "e@x.com"})
	require.NoError(t, cmd.Execute())

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: "cli-secret", Issuer: "taskhub"})
	require.NoError(t, err)
	identity, err := verifier.Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{ID: "u1", Email: "e@x.com"}, identity)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TASKHUB_JWT_SECRET", "")
	configFile = ""

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"token", "--user-id", "u1"})

	err := cmd.Execute()
	errutil.AssertErrorCode(t, err, auth.CodeSecretMissing)
}

func TestTokenCommand_RequiresUserID(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"token"})

	errutil.AssertErrorCode(t, cmd.Execute(), config.CodeInvalid)
}
