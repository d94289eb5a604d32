// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the leveled logging chokepoint used by every other
// package in this module. The call-site API (Debugf/Infof/Warningf,
// IsLogging) mirrors gVisor's own pkg/log; the implementation is backed by
// logrus instead of a hand-rolled writer.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors gVisor's log.Level enum.
type Level int

const (
	// Warning is the default level: only warnings and above are printed.
	Warning Level = iota
	// Info prints informational progress messages in addition to warnings.
	Info
	// Debug additionally prints the packet trace enabled by -d.
	Debug
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   false,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	base.SetLevel(logrus.WarnLevel)
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(l Level) {
	switch l {
	case Debug:
		base.SetLevel(logrus.DebugLevel)
	case Info:
		base.SetLevel(logrus.InfoLevel)
	default:
		base.SetLevel(logrus.WarnLevel)
	}
}

// IsLogging returns whether the given level is currently emitted. Callers
// use this to skip building an expensive trace message (e.g. a hex dump of
// a packet) when it would be discarded anyway.
func IsLogging(l Level) bool {
	switch l {
	case Debug:
		return base.IsLevelEnabled(logrus.DebugLevel)
	case Info:
		return base.IsLevelEnabled(logrus.InfoLevel)
	default:
		return true
	}
}

// Debugf logs at Debug level.
func Debugf(format string, v ...any) { base.Debugf(format, v...) }

// Infof logs at Info level.
func Infof(format string, v ...any) { base.Infof(format, v...) }

// Warningf logs at Warning level.
func Warningf(format string, v ...any) { base.Warnf(format, v...) }
