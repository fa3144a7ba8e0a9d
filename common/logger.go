// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package common

import (
	"fmt"
	"io"
	"log"
	"path"
	"runtime"
	"strings"
	"time"
)

// lineEnding is \n on every platform this app targets; kept as a var (not a
// literal) so platform-specific builds can override it the way the rest of
// this package's Write path expects.
var lineEnding = "\n"

// CurrentProcessLogger is set once at daemon startup. Anything that cannot
// reach a logger through its own constructor (deeply nested helpers, package
// init code) logs through this instead of dropping the message.
var CurrentProcessLogger ILoggerResetable

// LogWithPrefix logs a message through CurrentProcessLogger, prefixing
// warning-or-worse messages with their level so they stand out in a log
// dominated by INFO lines.
func LogWithPrefix(msg string, level LogLevel) {
	if CurrentProcessLogger != nil {
		prefix := ""
		if level <= LogWarning {
			prefix = fmt.Sprintf("%s: ", level)
		}
		CurrentProcessLogger.Log(level, prefix+msg)
	}
}

type ILogger interface {
	ShouldLog(level LogLevel) bool
	Log(level LogLevel, msg string)
	Panic(err error)
}

type ILoggerCloser interface {
	ILogger
	CloseLog()
}

type ILoggerResetable interface {
	OpenLog()
	MinimumLogLevel() LogLevel
	ILoggerCloser
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type LogLevelOverrideLogger struct {
	ILoggerResetable
	MinimumLevelToLog LogLevel
}

func (l LogLevelOverrideLogger) MinimumLogLevel() LogLevel {
	return l.MinimumLevelToLog
}

func (l LogLevelOverrideLogger) ShouldLog(level LogLevel) bool {
	if level == LogNone {
		return false
	}
	return level <= l.MinimumLevelToLog
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

const maxLogSize = 500 * 1024 * 1024

// processLogger is a single rotating log file for the whole daemon process.
// Unlike a per-job logger it has no job identity; every stream, the session
// pool, the cache, and the range server all write through the same instance.
type processLogger struct {
	minimumLevelToLog LogLevel
	file              io.WriteCloser
	logFileFolder     string
	logFileName       string
	logger            *log.Logger
	sanitizer         LogSanitizer
}

func NewProcessLogger(minimumLevelToLog LogLevel, logFileFolder string, logFileName string) ILoggerResetable {
	return &processLogger{
		minimumLevelToLog: minimumLevelToLog,
		logFileFolder:     logFileFolder,
		logFileName:       logFileName,
		sanitizer:         NewLogSanitizer(),
	}
}

func (pl *processLogger) OpenLog() {
	if pl.minimumLevelToLog == LogNone {
		return
	}

	file, err := NewRotatingWriter(path.Join(pl.logFileFolder, pl.logFileName+".log"), maxLogSize)
	PanicIfErr(err)

	pl.file = file

	flags := log.LstdFlags | log.LUTC
	utcMessage := fmt.Sprintf("Log times are in UTC. Local time is %s", time.Now().Format("2 Jan 2006 15:04:05"))

	pl.logger = log.New(pl.file, "", flags)
	pl.logger.Println("Version ", Version)
	pl.logger.Println("OS-Environment ", runtime.GOOS)
	pl.logger.Println("OS-Architecture ", runtime.GOARCH)
	pl.logger.Println(utcMessage)
}

func (pl *processLogger) MinimumLogLevel() LogLevel {
	return pl.minimumLevelToLog
}

func (pl *processLogger) ShouldLog(level LogLevel) bool {
	if level == LogNone {
		return false
	}
	return level <= pl.minimumLevelToLog
}

func (pl *processLogger) CloseLog() {
	if pl.minimumLevelToLog == LogNone {
		return
	}

	pl.logger.Println("Closing Log")
	_ = pl.file.Close() // If it was already closed, that's alright. We wanted to close it, anyway.
}

func (pl *processLogger) Log(loglevel LogLevel, msg string) {
	// ensure all secrets are redacted
	msg = pl.sanitizer.SanitizeLogMessage(msg)

	if lineEnding != "\n" {
		msg = strings.Replace(msg, "\n", lineEnding, -1)
	}
	if pl.ShouldLog(loglevel) {
		pl.logger.Println(msg)
	}
}

func (pl *processLogger) Panic(err error) {
	pl.logger.Println(err) // log first, so the error reaches the file before the panic unwinds
	panic(err)
}

func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

type causer interface {
	Cause() error
}

// Cause walks all the preceding errors and return the originating error.
func Cause(err error) error {
	for err != nil {
		cause, ok := err.(causer)
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return err
}
