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

// Package util contains small helpers shared by the configuration code.
package util

import (
	"strconv"
	"strings"
	"time"

	"github.com/openrio/riofab/pkg/private/serrors"
)

var units = []struct {
	suffix string
	dur    time.Duration
}{
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
	{"us", time.Microsecond},
	{"ns", time.Nanosecond},
}

// ParseDuration parses a duration. Besides the format accepted by
// time.ParseDuration it accepts a whole number of days with the "d" suffix.
// Negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseUint(strings.TrimSuffix(s, "d"), 10, 32)
		if err != nil {
			return 0, serrors.Wrap("invalid duration", err, "value", s)
		}
		d = time.Duration(days) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, serrors.Wrap("invalid duration", err, "value", s)
		}
	}
	if d < 0 {
		return 0, serrors.New("negative duration", "value", s)
	}
	return d, nil
}

// FmtDuration formats d with the largest unit that represents it exactly,
// e.g. 1500ms instead of 1.5s.
func FmtDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d%(24*time.Hour) == 0 {
		return strconv.FormatInt(int64(d/(24*time.Hour)), 10) + "d"
	}
	for _, u := range units {
		if d%u.dur == 0 {
			return strconv.FormatInt(int64(d/u.dur), 10) + u.suffix
		}
	}
	return d.String()
}
