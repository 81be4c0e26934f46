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

package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// CtxMap contains the context for sample generation.
type CtxMap map[string]string

// ArraySampler is a TableSampler that is rendered as a TOML array of tables,
// i.e. with a [[name]] header.
type ArraySampler interface {
	TableSampler
	IsArray()
}

// WriteSample writes all sample config blocks in order of appearance to dst.
// Table samplers get a header and are indented. It panics if an error occurs.
func WriteSample(dst io.Writer, path Path, ctx CtxMap, samplers ...Sampler) {
	var buf bytes.Buffer
	for _, sampler := range samplers {
		buf.Reset()
		ts, ok := sampler.(TableSampler)
		if !ok {
			sampler.Sample(&buf, path, ctx)
			if _, err := io.Copy(dst, &buf); err != nil {
				panic(fmt.Sprintf("Unable to write sample err=%s", err))
			}
			continue
		}
		p := path.Extend(ts.ConfigName())
		_, array := sampler.(ArraySampler)
		writeHeader(dst, p, array)
		ts.Sample(&buf, p, ctx)
		writeWithIndent(dst, &buf)
	}
}

// WriteString writes the string to dst. It panics if an error occurs.
func WriteString(dst io.Writer, s string) {
	if _, err := io.WriteString(dst, s); err != nil {
		panic(fmt.Sprintf("Unable to write string err=%s", err))
	}
}

func writeWithIndent(dst io.Writer, src io.Reader) {
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		if line := scanner.Text(); len(line) > 0 {
			fmt.Fprintf(dst, "    %s\n", line)
		} else {
			fmt.Fprintln(dst)
		}
	}
}

func writeHeader(dst io.Writer, path Path, array bool) {
	name := strings.Join(path, ".")
	if array {
		WriteString(dst, fmt.Sprintf("\n[[%s]]\n", name))
		return
	}
	WriteString(dst, fmt.Sprintf("\n[%s]\n", name))
}
