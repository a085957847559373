/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package trace

import (
	"fmt"
	"math"
	"strings"
)

// Sprintf renders a C printf format string with 32-bit argument words.
// Length modifiers are accepted and ignored since every argument is one word.
// An argument missing from args renders as zero.
//
// Conversions:
//
//	%d %i    signed decimal
//	%u       unsigned decimal
//	%x %X %o unsigned hex / octal
//	%c       low byte, written raw
//	%p %s    the raw word as 0x-prefixed hex
//	%e %f %g the word reinterpreted as a float32
//
// Unrecognized conversions are copied to the output unchanged.
func Sprintf(format string, args []uint32) string {
	var sb strings.Builder
	sb.Grow(len(format) + 16)

	next := 0
	arg := func() uint32 {
		if next < len(args) {
			v := args[next]
			next++
			return v
		}
		next++
		return 0
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}

		start := i
		i++
		if i >= len(format) {
			sb.WriteByte('%')
			break
		}
		if format[i] == '%' {
			sb.WriteByte('%')
			continue
		}

		var spec strings.Builder
		spec.WriteByte('%')

		// Flags
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			spec.WriteByte(format[i])
			i++
		}

		// Width
		if i < len(format) && format[i] == '*' {
			fmt.Fprintf(&spec, "%d", int32(arg()))
			i++
		} else {
			for i < len(format) && isDigit(format[i]) {
				spec.WriteByte(format[i])
				i++
			}
		}

		// Precision
		if i < len(format) && format[i] == '.' {
			spec.WriteByte('.')
			i++
			if i < len(format) && format[i] == '*' {
				fmt.Fprintf(&spec, "%d", max(int32(arg()), 0))
				i++
			} else {
				for i < len(format) && isDigit(format[i]) {
					spec.WriteByte(format[i])
					i++
				}
			}
		}

		// Length modifiers
		for i < len(format) && strings.IndexByte("hlLqjzt", format[i]) >= 0 {
			i++
		}

		if i >= len(format) {
			sb.WriteString(format[start:])
			break
		}

		verb := spec.String()
		switch conv := format[i]; conv {
		case 'd', 'i':
			fmt.Fprintf(&sb, verb+"d", int32(arg()))
		case 'u':
			fmt.Fprintf(&sb, verb+"d", arg())
		case 'x', 'X', 'o':
			fmt.Fprintf(&sb, verb+string(conv), arg())
		case 'c':
			// The raw byte, not its UTF-8 encoding
			fmt.Fprintf(&sb, strings.Replace(verb, "#", "", 1)+"s", string([]byte{byte(arg())}))
		case 'p', 's':
			fmt.Fprintf(&sb, strings.Replace(verb, "#", "", 1)+"s", fmt.Sprintf("0x%x", arg()))
		case 'e', 'E', 'f', 'F', 'g', 'G':
			fmt.Fprintf(&sb, verb+string(conv), math.Float32frombits(arg()))
		default:
			sb.WriteString(format[start : i+1])
		}
	}

	return sb.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
