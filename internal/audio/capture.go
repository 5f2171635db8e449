package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Params configures a capture stream's format and ring sizing.
type Params struct {
	SampleRate    int
	Channels      int
	ChunkSize     int // bytes per pushed Frame, interleaved int16
	BufferSeconds float64
}

// Capture owns a Pulse record stream and pushes timestamped frames into a
// Ring on a dedicated goroutine. Transient stream errors trigger a
// close-and-reopen cycle; persistent failures are surfaced through Err.
type Capture struct {
	device Device
	params Params
	ring   *Ring

	client *pulse.Client
	stream *pulse.RecordStream

	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool
	started time.Time

	inflight sync.WaitGroup
	bytes    atomic.Int64
	failed   atomic.Bool
	lastErr  atomic.Value // error
	lastPCM  atomic.Value // time.Time, updated by onPCM

	// reopenFunc replaces Reopen in tests that simulate stalls without a
	// live Pulse server.
	reopenFunc func() error
}

// StartCapture opens a record stream on the selected device and begins
// pushing Frames into a freshly allocated Ring sized by params.BufferSeconds.
func StartCapture(ctx context.Context, selected Device, params Params) (*Capture, error) {
	if params.ChunkSize <= 0 {
		params.ChunkSize = 2 * params.Channels * params.SampleRate / 50 // ~20ms
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("woofwatchd"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	framesPerBuffer := params.BufferSeconds * float64(params.SampleRate)
	bytesPerFrame := 2 * params.Channels
	ringCapacity := int(framesPerBuffer*float64(bytesPerFrame)/float64(params.ChunkSize)) + 1

	capture := &Capture{
		device:  selected,
		params:  params,
		ring:    NewRing(ringCapacity),
		client:  client,
		stopCh:  make(chan struct{}),
		started: time.Now(),
	}

	recordOpts := []pulse.RecordOption{
		pulse.RecordSource(source),
		pulse.RecordSampleRate(uint32(params.SampleRate)),
		pulse.RecordBufferFragmentSize(uint32(params.ChunkSize)),
		pulse.RecordMediaName("woofwatchd capture"),
	}
	if params.Channels <= 1 {
		recordOpts = append(recordOpts, pulse.RecordMono)
	} else {
		recordOpts = append(recordOpts, pulse.RecordStereo)
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(writer, recordOpts...)
	if err != nil {
		capture.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	capture.touchPCM()
	stream.Start()

	go func() {
		<-ctx.Done()
		_ = capture.Stop()
	}()
	go capture.watchdog()

	return capture, nil
}

// Reopen tears down and recreates the record stream against the same
// device, preserving the ring buffer and byte counters. The watchdog
// goroutine started by StartCapture calls this once PCM delivery stalls;
// a Reopen failure (e.g. the device disappeared) is persistent and gets
// recorded via markFailed rather than retried in a tight loop.
func (c *Capture) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errCaptureClosed
	}

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("woofwatchd"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("reconnect pulse server: %w", err)
	}

	source, err := client.SourceByID(c.device.ID)
	if err != nil {
		client.Close()
		return fmt.Errorf("resolve source %q: %w", c.device.ID, err)
	}

	recordOpts := []pulse.RecordOption{
		pulse.RecordSource(source),
		pulse.RecordSampleRate(uint32(c.params.SampleRate)),
		pulse.RecordBufferFragmentSize(uint32(c.params.ChunkSize)),
		pulse.RecordMediaName("woofwatchd capture"),
	}
	if c.params.Channels <= 1 {
		recordOpts = append(recordOpts, pulse.RecordMono)
	} else {
		recordOpts = append(recordOpts, pulse.RecordStereo)
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(writer, recordOpts...)
	if err != nil {
		client.Close()
		return fmt.Errorf("recreate pulse record stream: %w", err)
	}

	c.client = client
	c.stream = stream
	stream.Start()
	return nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Ring exposes the live frame buffer for downstream components.
func (c *Capture) Ring() *Ring {
	return c.ring
}

// StartedAt returns the wall-clock time against which Frame.Timestamp
// (elapsed seconds) is relative, letting callers convert a wall-clock
// instant into a Ring-relative timestamp.
func (c *Capture) StartedAt() time.Time {
	return c.started
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Err reports the most recent persistent (non-recoverable) capture failure,
// if any.
func (c *Capture) Err() error {
	if v := c.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Stop halts the stream, waits up to 2 seconds for in-flight frame delivery,
// and is safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM receives raw Pulse frames, slices them into params.ChunkSize blocks,
// and pushes each as a timestamped Frame into the ring.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)

	var chunks [][]byte
	for len(c.pending) >= c.params.ChunkSize {
		chunk := make([]byte, c.params.ChunkSize)
		copy(chunk, c.pending[:c.params.ChunkSize])
		c.pending = c.pending[c.params.ChunkSize:]
		chunks = append(chunks, chunk)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))
	c.touchPCM()

	elapsed := time.Since(c.started).Seconds()
	for _, chunk := range chunks {
		c.ring.Push(Frame{
			Timestamp:  elapsed,
			PCM:        chunk,
			Channels:   c.params.Channels,
			SampleRate: c.params.SampleRate,
		})
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// markFailed records a persistent, non-recoverable capture error.
func (c *Capture) markFailed(err error) {
	if err == nil {
		return
	}
	c.failed.Store(true)
	c.lastErr.Store(err)
}

// touchPCM records that a PCM fragment was just delivered, resetting the
// watchdog's stall clock.
func (c *Capture) touchPCM() {
	c.lastPCM.Store(time.Now())
}

// lastPCMAt returns the last time onPCM observed data, or started if no
// frame has arrived yet.
func (c *Capture) lastPCMAt() time.Time {
	if v := c.lastPCM.Load(); v != nil {
		return v.(time.Time)
	}
	return c.started
}

// stallTimeout sizes the watchdog's stall window at roughly ten buffer
// fragments, with a floor so low sample rates don't trip spuriously.
func (c *Capture) stallTimeout() time.Duration {
	bytesPerFrame := 2 * c.params.Channels
	if bytesPerFrame <= 0 || c.params.SampleRate <= 0 || c.params.ChunkSize <= 0 {
		return minStallTimeout
	}
	fragmentSeconds := float64(c.params.ChunkSize) / float64(bytesPerFrame*c.params.SampleRate)
	timeout := time.Duration(fragmentSeconds * 10 * float64(time.Second))
	if timeout < minStallTimeout {
		return minStallTimeout
	}
	return timeout
}

// watchdog polls for a stalled PCM stream and reopens it. Per the capture
// failure model, a reopen that succeeds means the error was transient and
// capture continues silently; a reopen that fails (device gone, server
// down) is persistent and gets recorded via markFailed, after which the
// watchdog keeps retrying on the same cadence rather than giving up.
func (c *Capture) watchdog() {
	timeout := c.stallTimeout()
	interval := timeout / watchdogTicksPerTimeout
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkStalled(timeout)
		}
	}
}

// checkStalled reopens the stream if no PCM has arrived within timeout.
func (c *Capture) checkStalled(timeout time.Duration) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	if time.Since(c.lastPCMAt()) < timeout {
		return
	}

	reopen := c.Reopen
	if c.reopenFunc != nil {
		reopen = c.reopenFunc
	}
	if err := reopen(); err != nil {
		c.markFailed(fmt.Errorf("reopen stalled capture stream: %w", err))
	}
	// Either outcome buys one more timeout window before the next
	// reopen attempt, rather than spinning every tick while stalled.
	c.touchPCM()
}

const (
	minStallTimeout         = 2 * time.Second
	watchdogTicksPerTimeout = 4
)

var errCaptureClosed = errors.New("capture stream closed")
