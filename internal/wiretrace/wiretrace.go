/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package wiretrace formats raw packet bytes for the deepest debug level,
// the Go equivalent of DebugUtil.c's hex_dump used by udp_send/udp_receive.
package wiretrace

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

const bytesPerLine = 12

// HexDump logs buf as hex-and-ASCII, one line per bytesPerLine bytes, at
// trace level. It's a no-op unless trace logging is enabled, so callers
// can call it unconditionally on the hot path.
func HexDump(label string, buf []byte) {
	if !log.IsLevelEnabled(log.TraceLevel) {
		return
	}
	log.Tracef("%s (%d bytes)\n%s", label, len(buf), format(buf))
}

func format(buf []byte) string {
	var b strings.Builder
	for i := 0; i < len(buf); i += bytesPerLine {
		end := i + bytesPerLine
		if end > len(buf) {
			end = len(buf)
		}
		line := buf[i:end]

		for j, c := range line {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(hexByte(c))
		}
		for pad := len(line); pad < bytesPerLine; pad++ {
			b.WriteString("   ")
		}
		b.WriteString(" | ")
		for _, c := range line {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		if end < len(buf) {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

const hexDigits = "0123456789ABCDEF"

func hexByte(c byte) string {
	return string([]byte{hexDigits[c>>4], hexDigits[c&0x0f]})
}
