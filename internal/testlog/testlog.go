// https://github.com/tech2077/litepcie-go
//
// Copyright (c) The litepcie-go Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package testlog builds a discarding logrus entry shared by every
// package's tests, avoiding log noise in `go test -v` output the way a
// silenced *testing.T logger would.
package testlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a *logrus.Entry whose output is discarded.
func New() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
