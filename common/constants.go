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

import "os"

const (
	// Base10Mega is used for throughput figures (bits/sec), which are conventionally base 10.
	// Byte counts elsewhere in this app use base 2 (1024 * 1024) units, per ByteSizeToString.
	Base10Mega = 1000 * 1000

	// ChunkSize is the fixed slice size the fetcher and cache operate on. The remote store
	// only ever serves sequential pulls anchored to a multiple of this size.
	ChunkSize = 1 * 1024 * 1024

	ClientPoolSize          = 3
	ParallelWorkers         = 9
	PrefetchChunks          = 50
	TailChunks              = 3
	SeekPrebufChunks        = 10
	LookaheadChunks         = 250
	CacheMaxBytes           = 700 * 1024 * 1024
	MaxRetries              = 4
	MaxConsecutiveFailures  = 5
	RetryBaseDelayMs        = 200
	RateLimitSafetyMargin   = 2 // seconds added on top of the server-specified retry-after
	WorkerCooldown          = 30 // milliseconds
	ConsecutiveFailureSleep = 500 // milliseconds
)

// ShutdownGracePeriod bounds how long Shutdown waits for in-flight range
// requests to drain before forcing the listener closed.
const ShutdownGracePeriod = 10 * timeSecond

const timeSecond = 1e9 // avoids importing "time" into constants.go just for this

// DefaultFilePerm is used for any file this app writes directly (the persisted
// credential blob, rotated log files). 0600 keeps it private to the owning user.
const DefaultFilePerm = os.FileMode(0600)

// DefaultDirPerm is used for the per-user configuration directory.
const DefaultDirPerm = os.FileMode(0700)
