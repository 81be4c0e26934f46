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

package walk

// State is the state of a node during a walk.
type State int

// Walk states. Error, Redundant and Blocked are terminal.
const (
	StateUnknown State = iota
	StateLockPending
	StateIdentified
	StatePortScan
	StateChildRecurse
	StateRegistered
	StateError
	StateRedundant
	StateBlocked
)

var stateNames = [...]string{
	StateUnknown:      "unknown",
	StateLockPending:  "lock_pending",
	StateIdentified:   "identified",
	StatePortScan:     "port_scan",
	StateChildRecurse: "child_recurse",
	StateRegistered:   "registered",
	StateError:        "error",
	StateRedundant:    "redundant",
	StateBlocked:      "blocked",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}
