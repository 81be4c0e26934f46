// Copyright 2018 ETH Zurich
// Copyright 2020 ETH Zurich, Anapaya Systems
// Copyright 2026 The riofab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package xtest contains helpers shared by the package tests.
package xtest

import (
	"encoding/hex"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ExpandPath returns testdata/file.
func ExpandPath(file string) string {
	return filepath.Join("testdata", file)
}

var whitespace = regexp.MustCompile(`\s+`)

// MustParseHexString parses s, ignoring whitespace, and returns the
// corresponding byte slice. It panics if the decoding fails.
func MustParseHexString(s string) []byte {
	decoded, err := hex.DecodeString(whitespace.ReplaceAllString(s, ""))
	if err != nil {
		panic(err)
	}
	return decoded
}

// AssertReadReturnsBefore will call t.Fatalf if the first read from the
// channel doesn't happen before timeout.
func AssertReadReturnsBefore(t testing.TB, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("goroutine took too long to finish")
	}
}

// AssertErrorsIs returns an assert.ErrorAssertionFunc that checks that the
// error wraps target. A nil target asserts that there is no error.
func AssertErrorsIs(target error) assert.ErrorAssertionFunc {
	return func(t assert.TestingT, err error, msgAndArgs ...any) bool {
		if target == nil {
			return assert.NoError(t, err, msgAndArgs...)
		}
		return assert.ErrorIs(t, err, target, msgAndArgs...)
	}
}
