package sink

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"

	"github.com/babelcloud/gbox/packages/avsync/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avsync/internal/codec/h264"
	"github.com/babelcloud/gbox/packages/avsync/internal/core"
	"github.com/babelcloud/gbox/packages/avsync/internal/util"
)

const mkvFlushTimeout = 5 * time.Second

// MKV writes a Matroska stream with one SimpleBlock per sample. Block
// timestamps are milliseconds from the first written sample.
type MKV struct {
	w      io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	entries  []webm.TrackEntry
	formats  []core.Format
	writers  []webm.BlockWriteCloser
	wc       *writerCloser
	started  bool
	stopped  bool
	released bool
	origin   int64
	hasOrig  bool
	blocks   []int

	// sendMu serializes block hand-off to the Matroska writer goroutine
	// with closing the track writers. It is never taken by that goroutine.
	sendMu sync.Mutex

	fatalMu sync.Mutex
	fatal   error
}

// writerCloser keeps the Matroska writer from closing the destination and
// reports when the writer is done with it.
type writerCloser struct {
	writer io.Writer
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (wc *writerCloser) Write(p []byte) (n int, err error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.closed {
		return 0, io.ErrClosedPipe
	}
	n, err = wc.writer.Write(p)
	if err != nil {
		wc.logger.Warn("Write error detected, marking writer as closed",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
			"data_size", len(p),
			"bytes_written", n)
		wc.closed = true
	}
	return n, err
}

func (wc *writerCloser) Close() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.closed {
		wc.closed = true
	}
	select {
	case <-wc.done:
	default:
		close(wc.done)
	}
	return nil
}

// NewMKV creates a sink writing to w. If w is an io.Closer it is closed by
// Release.
func NewMKV(w io.Writer, logger *slog.Logger) *MKV {
	return &MKV{
		w:      w,
		logger: util.ComponentLogger(logger, "mkv_sink"),
	}
}

// AddTrack implements core.Sink.
func (m *MKV) AddTrack(kind core.Kind, format core.Format) (core.TrackID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return 0, fmt.Errorf("cannot add track after start")
	}

	number := uint64(len(m.entries) + 1)
	entry := webm.TrackEntry{
		TrackNumber: number,
		TrackUID:    number,
	}

	switch format.Codec {
	case core.CodecH264:
		private := h264.DecoderConfig(format.SPS, format.PPS)
		if private == nil {
			return 0, fmt.Errorf("H264 parameters not provided")
		}
		entry.Name = "Video"
		entry.CodecID = "V_MPEG4/ISO/AVC"
		entry.CodecPrivate = private
		entry.TrackType = 1
		entry.Video = &webm.Video{
			PixelWidth:  uint64(format.Width),
			PixelHeight: uint64(format.Height),
		}
	case core.CodecAAC:
		private, err := aac.EncodedConfig(format)
		if err != nil {
			return 0, err
		}
		entry.Name = "Audio"
		entry.CodecID = "A_AAC"
		entry.CodecPrivate = private
		entry.TrackType = 2
		entry.Audio = &webm.Audio{
			SamplingFrequency: float64(format.SampleRate),
			Channels:          uint64(format.Channels),
		}
	case core.CodecOpus:
		entry.Name = "Audio"
		entry.CodecID = "A_OPUS"
		entry.TrackType = 2
		entry.DefaultDuration = 20000000 // 20ms in nanoseconds
		entry.Audio = &webm.Audio{
			SamplingFrequency: 48000.0,
			Channels:          uint64(format.Channels),
		}
	default:
		return 0, fmt.Errorf("unsupported codec %q", format.Codec)
	}

	format.Kind = kind
	m.entries = append(m.entries, entry)
	m.formats = append(m.formats, format)
	m.blocks = append(m.blocks, 0)
	return core.TrackID(number), nil
}

// Start implements core.Sink by writing the EBML header and track list.
func (m *MKV) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("sink already started")
	}
	if len(m.entries) == 0 {
		return fmt.Errorf("no tracks added")
	}

	m.wc = &writerCloser{
		writer: m.w,
		logger: m.logger,
		done:   make(chan struct{}),
	}
	// The fatal handler runs on the Matroska writer goroutine and must not
	// take m.mu or sendMu.
	writers, err := webm.NewSimpleBlockWriter(m.wc, m.entries, mkvcore.WithOnFatalHandler(func(err error) {
		m.logger.Warn("Matroska writer failed", "error", err)
		m.setFatal(err)
	}))
	if err != nil {
		m.logger.Error("Failed to create Matroska writer", "error", err)
		return fmt.Errorf("failed to create Matroska writer: %w", err)
	}

	m.writers = writers
	m.started = true
	m.logger.Info("Matroska container initialized", "tracks", len(m.entries))
	return nil
}

func (m *MKV) setFatal(err error) {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	if m.fatal == nil {
		m.fatal = err
	}
}

func (m *MKV) fatalErr() error {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatal
}

// WriteSample implements core.Sink.
func (m *MKV) WriteSample(track core.TrackID, payload []byte, pts int64, flags core.Flags) error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("sink not accepting samples")
	}
	i := int(track) - 1
	if i < 0 || i >= len(m.writers) {
		m.mu.Unlock()
		return fmt.Errorf("unknown track %d", track)
	}
	if flags.Has(core.FlagCodecConfig) {
		m.mu.Unlock()
		return nil
	}

	data, key, err := m.blockPayload(m.formats[i], payload, flags)
	if err != nil || len(data) == 0 {
		m.mu.Unlock()
		return err
	}

	if !m.hasOrig {
		m.origin = pts
		m.hasOrig = true
	}
	ms := (pts - m.origin) / 1000
	if ms < 0 {
		m.logger.Debug("Sample precedes the session origin, clamping to 0",
			"track", track, "pts", pts, "origin", m.origin)
		ms = 0
	}
	writer, done := m.writers[i], m.wc.done
	m.mu.Unlock()

	if err := m.send(writer, done, key, ms, data); err != nil {
		m.logger.Error("Failed to write block", "track", track, "error", err, "size", len(data))
		return err
	}

	m.mu.Lock()
	m.blocks[i]++
	m.mu.Unlock()
	return nil
}

// send hands one block to the Matroska writer goroutine. Once that goroutine
// has exited after a fatal error nothing reads blocks anymore, so the
// hand-off also watches done.
func (m *MKV) send(w webm.BlockWriteCloser, done <-chan struct{}, key bool, ms int64, data []byte) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if err := m.fatalErr(); err != nil {
		return fmt.Errorf("matroska writer failed: %w", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := w.Write(key, ms, data)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("failed to write block: %w", err)
		}
		return nil
	case <-done:
		if err := m.fatalErr(); err != nil {
			return fmt.Errorf("matroska writer failed: %w", err)
		}
		return fmt.Errorf("matroska writer closed")
	}
}

func (m *MKV) blockPayload(f core.Format, payload []byte, flags core.Flags) ([]byte, bool, error) {
	switch f.Codec {
	case core.CodecH264:
		nalus, err := h264.Split(payload)
		if err != nil {
			return nil, false, err
		}
		key := flags.Has(core.FlagKeyFrame) || h264.IsKeyFrame(nalus)
		avcc, err := h264.EncodeAVCC(h264.MediaNALUs(nalus))
		return avcc, key, err
	case core.CodecAAC:
		return aac.StripADTS(payload), true, nil
	default:
		return payload, true, nil
	}
}

// Stop implements core.Sink by closing every track writer and waiting for
// the container to be flushed.
func (m *MKV) Stop() error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	writers := m.writers
	wc := m.wc
	m.mu.Unlock()

	m.sendMu.Lock()
	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.sendMu.Unlock()

	select {
	case <-wc.done:
	case <-time.After(mkvFlushTimeout):
		return fmt.Errorf("timed out flushing Matroska writer")
	}

	m.mu.Lock()
	m.logger.Info("Matroska sink stopped", "blocks", m.blocks)
	m.mu.Unlock()
	if firstErr != nil {
		return fmt.Errorf("failed to close track writer: %w", firstErr)
	}
	if err := m.fatalErr(); err != nil {
		return fmt.Errorf("matroska writer failed: %w", err)
	}
	return nil
}

// Release implements core.Sink.
func (m *MKV) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}
	m.released = true
	m.stopped = true
	if c, ok := m.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
