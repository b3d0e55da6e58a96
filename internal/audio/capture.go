// Package audio owns the microphone and speaker devices via malgo. Capture
// pushes into a bounded lock-free ring drained by a consumer goroutine;
// playback pulls from a second ring inside the device callback.
package audio

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	// ringBufferSize is the number of sample chunks the capture ring can
	// hold: at 32ms per chunk this is roughly ten seconds of audio between
	// the device callback and the segmenter before chunks start dropping.
	ringBufferSize = 320

	// maxSamplesPerChunk bounds the per-callback allocation: 32ms at 48kHz
	// with headroom.
	maxSamplesPerChunk = 2048
)

// audioChunk is one pre-allocated slot in the capture ring.
type audioChunk struct {
	samples []float32
	len     int
}

// ringBuffer is a lock-free single-producer single-consumer ring. The device
// callback is the producer and must never block; when the consumer falls
// behind, the newest chunks are dropped.
type ringBuffer struct {
	chunks    [ringBufferSize]audioChunk
	head      atomic.Uint64 // write position
	tail      atomic.Uint64 // read position
	dropCount atomic.Uint64
}

func newRingBuffer() *ringBuffer {
	rb := &ringBuffer{}
	for i := range rb.chunks {
		rb.chunks[i].samples = make([]float32, maxSamplesPerChunk)
	}
	return rb
}

// push copies samples into the next slot. Returns false when the ring is
// full and the chunk was dropped.
func (rb *ringBuffer) push(samples []float32) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head-tail >= ringBufferSize {
		count := rb.dropCount.Add(1)
		if count%100 == 0 {
			log.Printf("⚠️  Audio ring buffer full, dropped %d chunks", count)
		}
		return false
	}

	slot := &rb.chunks[head%ringBufferSize]
	n := copy(slot.samples, samples)
	slot.len = n

	rb.head.Add(1)
	return true
}

// pop returns the oldest chunk, or nil when the ring is empty. The returned
// slice aliases the slot and is only valid until the next pop.
func (rb *ringBuffer) pop() []float32 {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head == tail {
		return nil
	}

	slot := &rb.chunks[tail%ringBufferSize]
	samples := slot.samples[:slot.len]

	rb.tail.Add(1)
	return samples
}

// Capturer reads the default input device and hands resampled chunks to a
// consumer callback, decoupled from the device callback by the ring.
type Capturer struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32 // target rate handed to onSamples
	deviceSampleRate uint32 // the device's actual rate
	onSamples        func(samples []float32)
	running          atomic.Bool
	ringBuf          *ringBuffer
	stopChan         chan struct{}
	wg               sync.WaitGroup
	resampler        *PolyphaseResampler
}

// NewCapturer prepares a capturer delivering sampleRate mono f32 chunks to
// onSamples. The device is not opened until Start.
func NewCapturer(sampleRate int, onSamples func(samples []float32)) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		onSamples:  onSamples,
		ringBuf:    newRingBuffer(),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start opens the default microphone and begins feeding the ring. A consumer
// goroutine drains it, resamples when the device rate differs from the
// target, and invokes the callback.
func (c *Capturer) Start() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	// The device may ignore the requested rate; probe for the real one.
	tempDevice, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{})
	if err != nil {
		return fmt.Errorf("failed to query capture device: %w", err)
	}
	c.deviceSampleRate = tempDevice.SampleRate()
	tempDevice.Uninit()

	if c.deviceSampleRate != c.sampleRate {
		if c.deviceSampleRate > c.sampleRate {
			c.resampler = NewPolyphaseResampler(int(c.deviceSampleRate), int(c.sampleRate))
			log.Printf("🔄 Audio resampling: %d Hz -> %d Hz (polyphase anti-aliasing)", c.deviceSampleRate, c.sampleRate)
		} else {
			log.Printf("🔄 Audio resampling: %d Hz -> %d Hz (linear interpolation)", c.deviceSampleRate, c.sampleRate)
		}
	}

	// Runs on the audio thread; must not block or allocate per call.
	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		pooledSamples := bytesToFloat32(pInputSamples)
		if len(pooledSamples) > 0 {
			c.ringBuf.push(pooledSamples)
		}
		returnFloat32Buffer(pooledSamples)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	c.wg.Add(1)
	go c.processLoop()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

// processLoop drains the ring and calls onSamples, on its own goroutine.
func (c *Capturer) processLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
			samples := c.ringBuf.pop()
			if samples != nil && c.onSamples != nil && c.running.Load() {
				// The ring slot is reused on the next pop.
				samplesCopy := make([]float32, len(samples))
				copy(samplesCopy, samples)

				if c.resampler != nil {
					samplesCopy = c.resampler.Resample(samplesCopy)
				} else if c.deviceSampleRate != c.sampleRate {
					samplesCopy = ResampleInPlace(samplesCopy, int(c.deviceSampleRate), int(c.sampleRate))
				}

				c.onSamples(samplesCopy)
			} else {
				select {
				case <-c.stopChan:
					return
				case <-time.After(100 * time.Microsecond):
				}
			}
		}
	}
}

// Stop halts capture and waits for the consumer goroutine to exit.
func (c *Capturer) Stop() {
	c.running.Store(false)

	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}

	c.wg.Wait()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Pause stops delivering chunks without tearing down the device.
func (c *Capturer) Pause() {
	c.running.Store(false)
}

// Resume restarts delivery after Pause.
func (c *Capturer) Resume() {
	c.running.Store(true)
}

// Close releases the device and the audio context.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

// float32Pool recycles conversion buffers on the audio callback hot path.
var float32Pool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, 2048)
		return &buf
	},
}

// bytesToFloat32 converts raw little-endian f32 bytes to samples. The
// returned slice comes from the pool; callers hand it back with
// returnFloat32Buffer once done.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	pBuf := float32Pool.Get().(*[]float32)

	if cap(*pBuf) < numSamples {
		*pBuf = make([]float32, numSamples)
	}
	samples := (*pBuf)[:numSamples]

	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func returnFloat32Buffer(samples []float32) {
	if samples == nil {
		return
	}
	buf := samples[:cap(samples)]
	float32Pool.Put(&buf)
}
