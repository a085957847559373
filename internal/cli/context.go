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

package cli

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/NearNodeFlash/nnf-diag/internal/logging"
)

type DebugLevel int

const (
	// Disabled logs warnings and errors only.
	Disabled DebugLevel = iota

	// Debug adds the debug information of every package.
	Debug

	// Trace adds every command exchanged over the link.
	Trace
)

// Globals are the options shared by every command.
type Globals struct {
	Debug   bool   `kong:"optional,help='Enable debug'"`
	Verbose int    `kong:"optional,hidden,type='counter',help='Debug verbosity level.'"`
	Json    bool   `kong:"optional,help='Log in JSON format.'"`
	Config  string `kong:"optional,type='path',env='NNF_DIAG_CONFIG',help='Configuration file overlaying the built-in defaults.'"`
	Mock    bool   `kong:"optional,help='Connect every device to an in-process emulator.'"`

	Database string `kong:"optional,type='path',help='Inventory database path. Overrides the configuration.'"`

	Stdout io.Writer `kong:"-"`
	Stderr io.Writer `kong:"-"`
}

func (g *Globals) DebugLevel() DebugLevel {
	level := DebugLevel(g.Verbose)
	if level == Disabled && g.Debug {
		level = Debug
	}
	return level
}

// LogLevel maps the debug level onto a logger level.
func (g *Globals) LogLevel() string {
	switch level := g.DebugLevel(); {
	case level >= Trace:
		return log.TraceLevel.String()
	case level == Debug:
		return log.DebugLevel.String()
	}

	// An explicit LOG_LEVEL still applies
	if os.Getenv(logging.EnvLogLevel) != "" {
		return ""
	}
	return log.WarnLevel.String()
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

func (g *Globals) stderr() io.Writer {
	if g.Stderr == nil {
		return os.Stderr
	}
	return g.Stderr
}
