package virtio

// ShmRegion describes one entry of a backing device's optional shared
// memory region list (virtio-mmio v2, offsets 0xAC/0xB0..0xBC).
type ShmRegion struct {
	Offset uint64
	Len    uint64
}

// ShmRegions is the backing device's full shared-memory region table, keyed
// off a base GPA the regions are relative to.
type ShmRegions struct {
	BaseGPA uint64
	Regions []ShmRegion
}

// ActivatedQueue is one member of the frozen view of ready queues an
// Activator hands to the backing device: a (queue index, cloned queue,
// cloned event) tuple.
type ActivatedQueue struct {
	Index int
	Queue *Queue
	Event *QueueEvent
}

// BackingDevice is the external collaborator the transport drives: the
// concrete virtio device implementation (net/block/console/etc.), consumed
// only through this interface. The transport never inspects its concrete
// type.
type BackingDevice interface {
	// DeviceType returns the virtio device type id exposed at offset 0x08.
	DeviceType() uint32

	// Features returns the device's full 64-bit feature bitset.
	Features() uint64

	// AckFeatures is called once per acked feature page write (offset
	// 0x20) with the 64-bit value shifted into the correct page.
	AckFeatures(bits uint64)

	// QueueMaxSizes returns one max-size entry per queue the device
	// declares; its length fixes the transport's queue count.
	QueueMaxSizes() []uint16

	// ShmRegions returns the device's shared memory region table, if any.
	ShmRegions() (ShmRegions, bool)

	// ReadConfig/WriteConfig service the 0x100-0xFFF config window,
	// forwarded verbatim (offset already relative to 0x100).
	ReadConfig(offset uint64, data []byte)
	WriteConfig(offset uint64, data []byte)

	// Activate is called at most once between resets, once the driver has
	// reached DRIVER_OK; only queues marked ready are passed through.
	Activate(memory GuestMemory, interrupt *InterruptAdapter, queues []ActivatedQueue) error

	// Reset tears the device down. If reset is supported it returns the
	// interrupt adapter previously handed to Activate (ownership returns
	// to the transport) and true; if unsupported it returns (nil, false)
	// and the transport sets the guest-visible FAILED bit instead.
	Reset() (*InterruptAdapter, bool)
}
