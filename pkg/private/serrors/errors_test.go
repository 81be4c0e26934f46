// Copyright 2019 Anapaya Systems
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

package serrors_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openrio/riofab/pkg/private/serrors"
)

type testErrType struct {
	msg string
}

func (e *testErrType) Error() string {
	return e.msg
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestIsTimeout(t *testing.T) {
	assert.False(t, serrors.IsTimeout(serrors.New("no timeout")))
	assert.True(t, serrors.IsTimeout(serrors.Wrap("wrapped", timeoutErr{})))
}

func TestWrap(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		err := serrors.New("simple err")
		wrapped := serrors.Wrap("msg", err, "destid", 3)
		assert.ErrorIs(t, wrapped, err)
		assert.ErrorIs(t, wrapped, wrapped)
	})
	t.Run("As", func(t *testing.T) {
		err := &testErrType{msg: "test err"}
		wrapped := serrors.WrapNoStack("msg", err, "hop", 1)
		var errAs *testErrType
		require.True(t, errors.As(wrapped, &errAs))
		assert.Equal(t, err, errAs)
	})
	t.Run("string", func(t *testing.T) {
		err := serrors.WrapNoStack("reading CSR", errors.New("io"), "offset", "0x68", "destid", 4)
		assert.Equal(t, "reading CSR {destid=4; offset=0x68}: io", err.Error())
	})
}

func TestJoin(t *testing.T) {
	sentinel := errors.New("lock timeout")
	cause := &testErrType{msg: "cause"}
	joined := serrors.JoinNoStack(sentinel, cause, "destid", 7)
	assert.ErrorIs(t, joined, sentinel)
	assert.ErrorIs(t, joined, cause)
	assert.Equal(t, "lock timeout {destid=7}: cause", joined.Error())

	assert.NoError(t, serrors.Join(nil, nil))
	onlyBase := serrors.Join(sentinel, nil, "hop", 2)
	assert.ErrorIs(t, onlyBase, sentinel)
	assert.Equal(t, "lock timeout {hop=2}", onlyBase.Error())
}

func TestNew(t *testing.T) {
	err1 := serrors.New("err msg", "k", "v")
	err2 := serrors.New("err msg", "k", "v")
	assert.ErrorIs(t, err1, err1)
	assert.False(t, errors.Is(err1, err2))
}

func TestList(t *testing.T) {
	var l serrors.List
	assert.NoError(t, l.ToError())
	sentinel := errors.New("s")
	l = append(l, errors.New("a"), sentinel)
	assert.ErrorIs(t, l.ToError(), sentinel)
	assert.Equal(t, "[ a; s ]", l.Error())
}

func TestEncoding(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg"}),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	))
	logger.Info("failed", zap.Error(serrors.WrapNoStack("outer", errors.New("inner"), "port", 2)))
	require.NoError(t, logger.Sync())

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "outer {port=2}: inner", out["error"])
}
