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
	"os"
	"strconv"
)

type EnvironmentVariable struct {
	Name         string
	DefaultValue string
	Description  string
	Hidden       bool
}

// GetEnvironmentVariable gets the environment variable or its default value
func GetEnvironmentVariable(env EnvironmentVariable) string {
	value := os.Getenv(env.Name)
	if value == "" {
		return env.DefaultValue
	}
	return value
}

// GetEnvironmentVariableInt parses the environment variable as an int, falling back to
// def (rather than env.DefaultValue) when unset or unparsable, since the tunables below
// carry their production defaults as Go constants, not as strings.
func GetEnvironmentVariableInt(env EnvironmentVariable, def int) int {
	value := os.Getenv(env.Name)
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// ClearEnvironmentVariable clears the environment variable
func ClearEnvironmentVariable(variable EnvironmentVariable) {
	_ = os.Setenv(variable.Name, "")
}

// VisibleEnvironmentVariables needs to be updated when a new public environment variable is
// added. Things are here, rather than command line flags, for one of two reasons:
// 1. They are optional and obscure (performance tuning parameters), or
// 2. They are authentication secrets, which this keeps off the command line (serve also
// accepts the bot token as --bot-token, taking precedence over the variable).
var VisibleEnvironmentVariables = []EnvironmentVariable{
	EEnvironmentVariable.LogLocation(),
	EEnvironmentVariable.ConfigLocation(),
	EEnvironmentVariable.LogLevel(),
	EEnvironmentVariable.ChunkSize(),
	EEnvironmentVariable.ClientPoolSize(),
	EEnvironmentVariable.ParallelWorkers(),
	EEnvironmentVariable.PrefetchChunks(),
	EEnvironmentVariable.TailChunks(),
	EEnvironmentVariable.SeekPrebufChunks(),
	EEnvironmentVariable.LookaheadChunks(),
	EEnvironmentVariable.CacheMaxBytes(),
	EEnvironmentVariable.MaxRetries(),
	EEnvironmentVariable.MaxConsecutiveFailures(),
	EEnvironmentVariable.RangeServerAddr(),
	EEnvironmentVariable.BotToken(),
}

var EEnvironmentVariable = EnvironmentVariable{}

func (EnvironmentVariable) UserDir() EnvironmentVariable {
	// Only used internally, not listed in the environment variables.
	name := "HOME"
	if isWindows() {
		name = "USERPROFILE"
	}
	return EnvironmentVariable{Name: name}
}

func (EnvironmentVariable) LogLocation() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_LOG_LOCATION",
		Description: "Overrides where the rotating process log is stored, to avoid filling up a disk.",
	}
}

func (EnvironmentVariable) ConfigLocation() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_CONFIG_LOCATION",
		Description: "Overrides where the persisted session credential blob is stored.",
	}
}

func (EnvironmentVariable) LogLevel() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "STREAMCORE_LOG_LEVEL",
		DefaultValue: "INFO",
		Description:  "Minimum severity written to the process log: NONE, FATAL, ERROR, WARNING, INFO, or DEBUG (case-insensitive).",
	}
}

func (EnvironmentVariable) ChunkSize() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_CHUNK_SIZE",
		Description: "The fixed slice size (in bytes) the fetcher and cache operate on. Not read: the size is the compile-time constant ChunkSize.",
	}
}

func (EnvironmentVariable) ClientPoolSize() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_CLIENT_POOL_SIZE",
		Description: "Overrides how many sibling sessions are cloned from the authenticated primary session.",
	}
}

func (EnvironmentVariable) ParallelWorkers() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_PARALLEL_WORKERS",
		Description: "How many prefetch workers run per active stream. Not read: the count is the compile-time constant ParallelWorkers.",
	}
}

func (EnvironmentVariable) PrefetchChunks() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_PREFETCH_CHUNKS",
		Description: "How many chunks from the start of a stream are warmed on start_stream. Not read: the count is the compile-time constant PrefetchChunks.",
	}
}

func (EnvironmentVariable) TailChunks() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_TAIL_CHUNKS",
		Description: "How many chunks from the end of a stream are warmed on start_stream. Not read: the count is the compile-time constant TailChunks.",
	}
}

func (EnvironmentVariable) SeekPrebufChunks() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_SEEK_PREBUF_CHUNKS",
		Description: "How many chunks are fetched in parallel immediately after a seek, before the first response byte is written. Not read: the count is the compile-time constant SeekPrebufChunks.",
	}
}

func (EnvironmentVariable) LookaheadChunks() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_LOOKAHEAD_CHUNKS",
		Description: "How far ahead of playback the prefetch cursor is allowed to run. Not read: the distance is the compile-time constant LookaheadChunks.",
	}
}

func (EnvironmentVariable) CacheMaxBytes() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_CACHE_MAX_BYTES",
		Description: "Overrides the byte budget for the shared chunk cache, across all streams.",
	}
}

func (EnvironmentVariable) MaxRetries() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_MAX_RETRIES",
		Description: "How many attempts the fetcher makes for a single chunk before surfacing a failure. Not read: the count is the compile-time constant MaxRetries.",
	}
}

func (EnvironmentVariable) MaxConsecutiveFailures() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_MAX_CONSECUTIVE_FAILURES",
		Description: "How many consecutive chunk failures the range server tolerates before aborting a response. Not read: the count is the compile-time constant MaxConsecutiveFailures.",
	}
}

func (EnvironmentVariable) RangeServerAddr() EnvironmentVariable {
	return EnvironmentVariable{
		Name:         "STREAMCORE_LISTEN_ADDR",
		DefaultValue: "127.0.0.1:0",
		Description:  "Address the loopback range server binds to. Defaults to an ephemeral port on loopback only.",
	}
}

func (EnvironmentVariable) BotToken() EnvironmentVariable {
	return EnvironmentVariable{
		Name:        "STREAMCORE_BOT_TOKEN",
		Description: "The bot token used to authenticate the primary session, when not supplied programmatically.",
		Hidden:      true,
	}
}

func isWindows() bool {
	return os.PathSeparator == '\\'
}
