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

package link

import "fmt"

// State is a stage of connection setup.
type State uint8

const (
	StateEstablishing State = iota
	StatePostEstablish
	StateVerifying
	StatePostVerifyConnect
	StateDestroying
)

var stateNames = map[State]string{
	StateEstablishing:      "Establishing",
	StatePostEstablish:     "PostEstablish",
	StateVerifying:         "Verifying",
	StatePostVerifyConnect: "PostVerifyConnect",
	StateDestroying:        "Destroying",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Step is the outcome of one transition: either continue in Next, or stop
// with Result (nil on success).
type Step struct {
	Next   State
	Done   bool
	Result error
}

func Continue(next State) Step { return Step{Next: next} }

func Done(result error) Step { return Step{Done: true, Result: result} }

// DiscoveryMode selects how far connection setup proceeds past the probe.
type DiscoveryMode int

const (
	// ProbeOnly verifies the link and tears it down again.
	ProbeOnly DiscoveryMode = iota

	// SerialDebug qualifies the device and registers it in the inventory.
	SerialDebug
)

func (m DiscoveryMode) String() string {
	switch m {
	case ProbeOnly:
		return "probe"
	case SerialDebug:
		return "sdb"
	}
	return "unknown"
}

func ParseDiscoveryMode(s string) (DiscoveryMode, error) {
	switch s {
	case "probe":
		return ProbeOnly, nil
	case "", "sdb":
		return SerialDebug, nil
	}
	return ProbeOnly, fmt.Errorf("unknown discovery mode '%s'", s)
}
