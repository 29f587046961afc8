package virtio

import "errors"

// Error kinds surfaced across the activate and snapshot/restore paths.
// Decode-time problems are never returned as errors — they are absorbed
// and logged instead: a misbehaving guest must never stall the register
// decoder.
var (
	// ErrDeviceActivateFailed wraps a backing device's refusal to activate.
	// The transport remains unactivated; any barrier is still released.
	ErrDeviceActivateFailed = errors.New("virtio: backing device activation failed")

	// ErrQueueAddressInvalid is returned by a queue's try-set-address
	// operations when restore supplies a GPA the queue rejects.
	ErrQueueAddressInvalid = errors.New("virtio: invalid queue ring address")

	// ErrUsedIndexReadFailed wraps a guest-memory read failure while
	// rehydrating ring cursors during restore.
	ErrUsedIndexReadFailed = errors.New("virtio: failed to read used ring index")

	// ErrSnapshotMissing is returned by DecodeAndRestore when the supplied blob has
	// no section keyed for this transport's id.
	ErrSnapshotMissing = errors.New("virtio: snapshot missing transport section")

	// ErrInterruptFireFailed wraps an I/O error from the interrupt sink.
	ErrInterruptFireFailed = errors.New("virtio: interrupt sink trigger failed")
)
