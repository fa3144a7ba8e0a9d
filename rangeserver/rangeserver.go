// Package rangeserver implements the Range Server: a loopback HTTP server
// that turns a stream's cached chunks into an ordinary byte-range-capable
// HTTP resource for a local media player to open.
package rangeserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chunkrelay/streamcore/common"
	"github.com/chunkrelay/streamcore/pacer"
)

// StreamSource resolves a stream id to what the server needs to answer
// requests against it: file size/mime type for headers, a fetch path for
// chunk bytes, and a playback-notification hook for the prefetch window.
type StreamSource interface {
	Lookup(streamID string) (StreamMeta, bool)
	Fetch(ctx context.Context, streamID string, chunkIndex int64) ([]byte, error)
	NotifyPlayback(streamID string, chunkIndex int64)
	SeekTo(ctx context.Context, streamID string, chunkIndex int64) error
	Cached(streamID string, chunkIndex int64) bool
}

// StreamMeta is the handful of facts the HTTP layer needs about a stream.
type StreamMeta struct {
	FileSize int64
	MimeType string
}

// Server is the loopback HTTP range server. It binds to 127.0.0.1:0 (or the
// configured STREAMCORE_LISTEN_ADDR) unless told otherwise, so the chosen
// port is only ever shared with the local player process.
type Server struct {
	source    StreamSource
	logger    common.ILogger
	listener  net.Listener
	http      *http.Server
	bandwidth pacer.BandwidthRecorder
}

// New builds an unbound server over source. Start binds it (an empty addr
// there defaults to the configured STREAMCORE_LISTEN_ADDR); call Addr after
// Start to learn the bound port.
func New(source StreamSource, logger common.ILogger) *Server {
	bandwidth := pacer.NewBandwidthRecorder(10)
	bandwidth.StartObservation()
	return &Server{source: source, logger: logger, bandwidth: bandwidth}
}

// Bandwidth reports the trailing average throughput, in bytes/sec, the
// server has written to players over its last observation window.
func (s *Server) Bandwidth() (bytesPerSecond int64, fullAverage bool) {
	return s.bandwidth.Bandwidth()
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = common.GetEnvironmentVariable(common.EEnvironmentVariable.RangeServerAddr())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return common.NewClassifiedError(common.ClassFatal, "rangeserver.Start", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/stream/", s.handleStream)
	s.http = &http.Server{Handler: mux}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed && s.logger != nil {
			s.logger.Log(common.LogError, fmt.Sprintf("rangeserver: serve exited: %v", err))
		}
	}()
	return nil
}

// Addr returns the bound address, e.g. "127.0.0.1:54321".
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// drain, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	streamID := strings.TrimPrefix(r.URL.Path, "/stream/")
	if streamID == "" {
		http.NotFound(w, r)
		return
	}

	meta, ok := s.source.Lookup(streamID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	start, end, isRange, err := parseRange(r.Header.Get("Range"), meta.FileSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", meta.FileSize))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if r.Method == http.MethodHead {
		if isRange {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, meta.FileSize))
			w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.FormatInt(meta.FileSize, 10))
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	// Seek-burst pre-buffer (spec §4.5): only reposition the prefetch window
	// and synchronously burst-fetch ahead of start when the first chunk of
	// the range isn't already warm. A warm sequential range (the common case
	// once playback is underway) skips this entirely, so it never pays a
	// seek generation bump or a round of Fetch calls that would just be
	// cache hits anyway.
	startChunk := start / common.ChunkSize
	if !s.source.Cached(streamID, startChunk) {
		if err := s.source.SeekTo(r.Context(), streamID, startChunk); err != nil && s.logger != nil {
			s.logger.Log(common.LogWarning, fmt.Sprintf("rangeserver: seek prebuffer failed: %v", err))
		}
	}

	if isRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, meta.FileSize))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.FileSize, 10))
		w.WriteHeader(http.StatusOK)
		end = meta.FileSize - 1
	}

	s.streamBody(r.Context(), w, streamID, start, end)
}

// streamBody emits bytes [start, end] inclusive, chunk by chunk, retrying a
// transient chunk failure a bounded number of times before giving up and
// closing the connection (the player will reopen with a fresh Range).
func (s *Server) streamBody(ctx context.Context, w http.ResponseWriter, streamID string, start, end int64) {
	flusher, _ := w.(http.Flusher)
	consecutiveFailures := 0

	offset := start
	for offset <= end {
		chunkIndex := offset / common.ChunkSize
		s.source.NotifyPlayback(streamID, chunkIndex)

		bytes, err := s.source.Fetch(ctx, streamID, chunkIndex)
		if err != nil {
			consecutiveFailures++
			if s.logger != nil {
				s.logger.Log(common.LogWarning, fmt.Sprintf("rangeserver: chunk %d fetch failed (%d consecutive): %v", chunkIndex, consecutiveFailures, err))
			}
			if consecutiveFailures >= common.MaxConsecutiveFailures {
				return
			}
			select {
			case <-time.After(time.Duration(common.ConsecutiveFailureSleep) * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		consecutiveFailures = 0

		chunkStart := chunkIndex * common.ChunkSize
		sliceStart := offset - chunkStart
		sliceEnd := int64(len(bytes))
		if chunkStart+sliceEnd-1 > end {
			sliceEnd = end - chunkStart + 1
		}
		if sliceStart >= sliceEnd {
			break
		}

		n, werr := w.Write(bytes[sliceStart:sliceEnd])
		s.bandwidth.RecordBytes(n)
		if werr != nil {
			return
		}
		offset += int64(n)

		if flusher != nil {
			common.LogChunkWaitReason(common.ChunkID{StreamID: streamID, Index: chunkIndex}, common.EWaitReason.WriterDrain())
			flusher.Flush()
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// parseRange parses a "bytes=S-" or "bytes=S-E" header against fileSize.
// An absent header is reported as isRange=false, start=0, end=fileSize-1.
func parseRange(header string, fileSize int64) (start, end int64, isRange bool, err error) {
	if header == "" {
		return 0, fileSize - 1, false, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false, fmt.Errorf("rangeserver: unsupported range unit")
	}
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("rangeserver: malformed range")
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("rangeserver: malformed range start")
	}

	if parts[1] == "" {
		end = fileSize - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false, fmt.Errorf("rangeserver: malformed range end")
		}
	}

	if start < 0 || start >= fileSize || end < start {
		return 0, 0, false, fmt.Errorf("rangeserver: range out of bounds")
	}
	if end >= fileSize {
		end = fileSize - 1
	}
	return start, end, true, nil
}
