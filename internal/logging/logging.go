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

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// EnvLogLevel sets the level when no level is given explicitly.
const EnvLogLevel = "LOG_LEVEL"

type Options struct {
	// Level is one of trace, debug, info, warn, error, fatal or panic. Empty
	// falls back to LOG_LEVEL and then to info.
	Level string

	JSON bool

	// Out defaults to stderr.
	Out io.Writer

	// ErrorOut, when set, also receives every entry at error level or above
	// formatted as JSON.
	ErrorOut io.Writer
}

func ParseLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return log.TraceLevel
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "FATAL":
		return log.FatalLevel
	case "PANIC":
		return log.PanicLevel
	default:
		return log.InfoLevel
	}
}

func NewLogger(opts Options) *log.Logger {
	logger := log.New()

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if opts.JSON {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			ForceColors:   isTerminal(out),
			DisableColors: !isTerminal(out),
		})
	}

	level := opts.Level
	if level == "" {
		level = os.Getenv(EnvLogLevel)
	}
	logger.SetLevel(ParseLevel(level))

	if opts.ErrorOut != nil {
		logger.AddHook(NewErrorHook(opts.ErrorOut))
	}

	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ErrorHook copies error entries to a second writer.
type ErrorHook struct {
	Logger *log.Logger
	Out    io.Writer
}

func NewErrorHook(out io.Writer) *ErrorHook {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	return &ErrorHook{Logger: logger, Out: out}
}

func (h *ErrorHook) Fire(entry *log.Entry) error {
	entry = entry.Dup()
	entry.Logger = h.Logger

	str, err := entry.String()
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(h.Out, str)
	return err
}

func (*ErrorHook) Levels() []log.Level {
	return []log.Level{
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
	}
}
