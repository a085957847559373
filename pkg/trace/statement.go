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
	"strings"
)

// TimestampMarker starts the format string of an elapsed time statement.
const TimestampMarker = "TSTAMP"

const (
	msPerDay    = 24 * 60 * 60 * 1000
	msPerHour   = 60 * 60 * 1000
	msPerMinute = 60 * 1000
	msPerSecond = 1000
)

// SanitizeFormat rewrites every %s conversion to %p. Record arguments are raw
// words from the device and are never dereferenced.
func SanitizeFormat(format string) string {
	return strings.ReplaceAll(format, "%s", "%p")
}

// FormatElapsed renders the elapsed time carried by the two arguments of a
// timestamp statement as <DD:HH:MM:SS.mmm>. The first word holds whole days in
// milliseconds and the second the time of day in milliseconds; their sum is
// split without rounding.
func FormatElapsed(daysMs, timeOfDayMs uint32) string {
	total := uint64(daysMs) + uint64(timeOfDayMs)

	days := total / msPerDay
	total %= msPerDay
	hours := total / msPerHour
	total %= msPerHour
	minutes := total / msPerMinute
	total %= msPerMinute
	seconds := total / msPerSecond
	millis := total % msPerSecond

	return fmt.Sprintf("<%02d:%02d:%02d:%02d.%03d>", days, hours, minutes, seconds, millis)
}

// Render formats a statement with its argument words.
func Render(format string, args []uint32) string {
	format = SanitizeFormat(format)

	if strings.HasPrefix(format, TimestampMarker) {
		var daysMs, timeOfDayMs uint32
		if len(args) > 0 {
			daysMs = args[0]
		}
		if len(args) > 1 {
			timeOfDayMs = args[1]
		}

		rest := args[min(len(args), 2):]
		return FormatElapsed(daysMs, timeOfDayMs) + Sprintf(format[len(TimestampMarker):], rest)
	}

	return Sprintf(format, args)
}

// RenderUnknown describes a record whose statement is not in any table.
func RenderUnknown(subsystem uint8, index uint16, args []uint32) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Unknown statement: subsystem %d index %d", subsystem, index)
	for _, a := range args {
		fmt.Fprintf(&sb, " 0x%08x", a)
	}
	return sb.String()
}
