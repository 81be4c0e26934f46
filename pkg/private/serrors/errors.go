// Copyright 2016 ETH Zurich
// Copyright 2019 ETH Zurich, Anapaya Systems
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

// Package serrors provides errors that carry key/value context. The context
// is rendered in the error string and emitted as structured fields when the
// error is logged through zap. All returned errors support errors.Is and
// errors.As against their cause and, for joined errors, their base error.
//
// Sentinel errors should be created with errors.New and annotated at the
// point of failure with Join or Wrap, e.g.:
//
//	var ErrTimeout = errors.New("lock timeout")
//	...
//	return serrors.JoinNoStack(ErrTimeout, nil, "destid", destid, "hop", hop)
package serrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxPair struct {
	Key   string
	Value any
}

// info is shared by basicError and joinedError. ctx is a pointer so that
// error values stay comparable for errors.Is.
type info struct {
	ctx   *[]ctxPair
	cause error
	stack *stack
}

func newInfo(cause error, withStack bool, errCtx []any) info {
	pairs := make([]ctxPair, 0, len(errCtx)/2)
	for i := 0; i+1 < len(errCtx); i += 2 {
		pairs = append(pairs, ctxPair{Key: fmt.Sprint(errCtx[i]), Value: errCtx[i+1]})
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].Key < pairs[b].Key })
	i := info{ctx: &pairs, cause: cause}
	// Only the innermost error records a stack; outer layers would add noise.
	if withStack && !hasStack(cause) {
		i.stack = callers()
	}
	return i
}

func hasStack(err error) bool {
	if err == nil {
		return false
	}
	var st interface{ StackTrace() StackTrace }
	return errors.As(err, &st) && st.StackTrace() != nil
}

func (i info) suffix() string {
	var b strings.Builder
	if len(*i.ctx) != 0 {
		b.WriteString(" {")
		for n, p := range *i.ctx {
			if n != 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s=%v", p.Key, p.Value)
		}
		b.WriteString("}")
	}
	if i.cause != nil {
		fmt.Fprintf(&b, ": %s", i.cause)
	}
	return b.String()
}

func (i info) marshal(enc zapcore.ObjectEncoder) error {
	if i.cause != nil {
		if m, ok := i.cause.(zapcore.ObjectMarshaler); ok {
			if err := enc.AddObject("cause", m); err != nil {
				return err
			}
		} else {
			enc.AddString("cause", i.cause.Error())
		}
	}
	if i.stack != nil {
		if err := enc.AddArray("stacktrace", i.stack); err != nil {
			return err
		}
	}
	for _, p := range *i.ctx {
		zap.Any(p.Key, p.Value).AddTo(enc)
	}
	return nil
}

// StackTrace returns the recorded stack trace, if any.
func (i info) StackTrace() StackTrace {
	if i.stack == nil {
		return nil
	}
	return i.stack.StackTrace()
}

type basicError struct {
	info
	msg string
}

func (e basicError) Error() string {
	return e.msg + e.info.suffix()
}

func (e basicError) Unwrap() error {
	return e.cause
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e basicError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	return e.info.marshal(enc)
}

type joinedError struct {
	info
	base error
}

func (e joinedError) Error() string {
	return e.base.Error() + e.info.suffix()
}

func (e joinedError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.base}
	}
	return []error{e.base, e.cause}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e joinedError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.base.Error())
	return e.info.marshal(enc)
}

// New creates an error with the given message and context and records a
// stack trace. Every call returns a distinct error; use errors.New for
// sentinels.
func New(msg string, errCtx ...any) error {
	return &basicError{info: newInfo(nil, true, errCtx), msg: msg}
}

// Wrap returns an error with the given message that wraps cause and carries
// errCtx. A stack trace is recorded unless cause already has one.
func Wrap(msg string, cause error, errCtx ...any) error {
	return basicError{info: newInfo(cause, true, errCtx), msg: msg}
}

// WrapNoStack is like Wrap but never records a stack trace.
func WrapNoStack(msg string, cause error, errCtx ...any) error {
	return basicError{info: newInfo(cause, false, errCtx), msg: msg}
}

// Join returns an error whose message is err and that wraps both err and
// cause. Both errors.Is(ret, err) and errors.Is(ret, cause) hold. Join
// returns nil if both err and cause are nil.
func Join(err, cause error, errCtx ...any) error {
	if err == nil && cause == nil {
		return nil
	}
	if err == nil {
		return Wrap("error", cause, errCtx...)
	}
	return joinedError{info: newInfo(cause, true, errCtx), base: err}
}

// JoinNoStack is like Join but never records a stack trace.
func JoinNoStack(err, cause error, errCtx ...any) error {
	if err == nil && cause == nil {
		return nil
	}
	if err == nil {
		return WrapNoStack("error", cause, errCtx...)
	}
	return joinedError{info: newInfo(cause, false, errCtx), base: err}
}

// IsTimeout returns whether err is or is caused by a timeout error.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// List is a slice of errors.
type List []error

// Error implements the error interface.
func (e List) Error() string {
	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}
	return fmt.Sprintf("[ %s ]", strings.Join(s, "; "))
}

// ToError returns nil for an empty list and the list otherwise.
func (e List) ToError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Unwrap allows errors.Is and errors.As to inspect the list members.
func (e List) Unwrap() []error {
	return e
}

// MarshalLogArray implements zapcore.ArrayMarshaler.
func (e List) MarshalLogArray(ae zapcore.ArrayEncoder) error {
	for _, err := range e {
		if m, ok := err.(zapcore.ObjectMarshaler); ok {
			if err := ae.AppendObject(m); err != nil {
				return err
			}
			continue
		}
		ae.AppendString(err.Error())
	}
	return nil
}
