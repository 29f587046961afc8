package virtio

import (
	"bytes"
	"errors"
	"sync"
)

// fakeGuestMemory is an in-memory byte store addressed by GPA, sized
// generously enough for every test in this package.
type fakeGuestMemory struct {
	mu  sync.Mutex
	mem [1 << 20]byte
}

func newFakeGuestMemory() *fakeGuestMemory {
	return &fakeGuestMemory{}
}

func (m *fakeGuestMemory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(p, m.mem[off:])
	return n, nil
}

func (m *fakeGuestMemory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(m.mem[off:], p)
	return n, nil
}

func (m *fakeGuestMemory) putUint16(off int64, v uint16) {
	var buf [2]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	_, _ = m.WriteAt(buf[:], off)
}

// fakeInterruptSink records every vector it was fired on.
type fakeInterruptSink struct {
	mu      sync.Mutex
	fired   []uint32
	failNow bool
}

func (s *fakeInterruptSink) Trigger(vector uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNow {
		return errors.New("fake sink: injected failure")
	}
	s.fired = append(s.fired, vector)
	return nil
}

func (s *fakeInterruptSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fired)
}

// activateCall records one call into fakeBackingDevice.Activate.
type activateCall struct {
	queues []ActivatedQueue
}

// fakeBackingDevice is a minimal BackingDevice stand-in whose Activate and
// Reset behavior are controlled per-test.
type fakeBackingDevice struct {
	mu sync.Mutex

	deviceType uint32
	features   uint64
	maxSizes   []uint16
	shm        ShmRegions
	hasShm     bool

	config []byte

	activateCalls  []activateCall
	activateErr    error
	resetAdapter   *InterruptAdapter
	resetSupported bool

	ackedFeatures uint64
}

func newFakeBackingDevice(maxSizes ...uint16) *fakeBackingDevice {
	return &fakeBackingDevice{
		deviceType: 2, // block device, arbitrary
		features:   0x1_0000_0001,
		maxSizes:   maxSizes,
		config:     make([]byte, 64),
	}
}

func (d *fakeBackingDevice) DeviceType() uint32 { return d.deviceType }
func (d *fakeBackingDevice) Features() uint64   { return d.features }

func (d *fakeBackingDevice) AckFeatures(bits uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ackedFeatures |= bits
}

func (d *fakeBackingDevice) QueueMaxSizes() []uint16 { return d.maxSizes }

func (d *fakeBackingDevice) ShmRegions() (ShmRegions, bool) {
	return d.shm, d.hasShm
}

func (d *fakeBackingDevice) ReadConfig(offset uint64, data []byte) {
	copy(data, d.config[offset:])
}

func (d *fakeBackingDevice) WriteConfig(offset uint64, data []byte) {
	copy(d.config[offset:], data)
}

func (d *fakeBackingDevice) Activate(memory GuestMemory, interrupt *InterruptAdapter, queues []ActivatedQueue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activateCalls = append(d.activateCalls, activateCall{queues: queues})
	return d.activateErr
}

func (d *fakeBackingDevice) Reset() (*InterruptAdapter, bool) {
	return d.resetAdapter, d.resetSupported
}

func (d *fakeBackingDevice) activations() []activateCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]activateCall, len(d.activateCalls))
	copy(out, d.activateCalls)
	return out
}

func put32(b []byte, v uint32) []byte {
	if b == nil {
		b = make([]byte, 4)
	}
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	return b
}

func get32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func bytesEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
