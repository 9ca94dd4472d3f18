// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

//go:build integration

package realtime_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestRealtime(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Real-time Notifications Integration Suite")
}
