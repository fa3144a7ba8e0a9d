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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ChunkID identifies one chunk of one stream, the unit every suspension
// point below is reported against.
type ChunkID struct {
	StreamID string
	Index    int64
}

var EWaitReason = WaitReason(0)

type WaitReason string

func (WaitReason) SessionAcquire() WaitReason  { return WaitReason("SessionAcquire") }
func (WaitReason) RemoteDownload() WaitReason  { return WaitReason("RemoteDownload") }
func (WaitReason) RetryBackoff() WaitReason    { return WaitReason("RetryBackoff") }
func (WaitReason) RateLimitWait() WaitReason   { return WaitReason("RateLimitWait") }
func (WaitReason) InFlightDedup() WaitReason   { return WaitReason("InFlightDedup") }
func (WaitReason) WorkerCooldown() WaitReason  { return WaitReason("WorkerCooldown") }
func (WaitReason) WriterDrain() WaitReason     { return WaitReason("WriterDrain") }
func (WaitReason) ChunkDone() WaitReason       { return WaitReason("Done") }
func (WaitReason) Cancelled() WaitReason       { return WaitReason("Cancelled") }

func (wr WaitReason) String() string {
	return string(wr) // avoiding reflection here, for speed, since will be called a lot
}

// TODO: stop this using globals
var cw chan chunkWait
const chunkLogEnabled = true // TODO make this controllable by command line parameter

type chunkWait struct {
	ChunkID
	reason    WaitReason
	waitStart time.Time
}

func LogChunkWaitReason(id ChunkID, reason WaitReason) {
	if !chunkLogEnabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			// recover panic from writing to closed channel
			// May happen in early exit of app, when StopChunkWaitLogger is called before last call to this routine
			_ = r
		}
	}()

	cw <- chunkWait{ChunkID: id, reason: reason, waitStart: time.Now()}
}

func StartChunkWaitLogger(logFolder string) {
	if !chunkLogEnabled {
		return
	}
	cw = make(chan chunkWait, 1000000)
	go chunkWaitLogger(logFolder)
}

func StopChunkWaitLogger() {
	if !chunkLogEnabled {
		return
	}
	close(cw)
	for len(cw) > 0 {
		time.Sleep(time.Second)
	}
}

func chunkWaitLogger(logFolder string) {
	f, err := os.Create(filepath.Join(logFolder, "chunkwaitlog.csv")) // only saves the latest run, at present...
	if err != nil {
		panic(err.Error())
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	defer func() { _ = w.Flush() }()

	_, _ = w.WriteString("StreamID,Index,State,StateStartTime\n")

	for x := range cw {
		_, _ = w.WriteString(fmt.Sprintf("%s,%d,%s,%s\n", x.StreamID, x.Index, x.reason, x.waitStart))
	}
}
