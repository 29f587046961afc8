package virtio

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// QueueSnapshot is the persisted shape of a single Queue.
type QueueSnapshot struct {
	MaxSize   uint16
	Size      uint16
	Ready     bool
	DescTable uint64
	AvailRing uint64
	UsedRing  uint64
}

// TransportSnapshot is the versioned, persisted shape of a Transport. It
// carries every scalar register plus one QueueSnapshot per queue index;
// NextAvail/NextUsed are deliberately absent, since restore always
// rehydrates them from the guest-visible used index rather than trusting a
// stored cursor.
type TransportSnapshot struct {
	Version int

	DeviceActivated  bool
	FeaturesSelect   uint32
	AckedFeaturesSel uint32
	QueueSelect      uint32
	DriverStatus     uint32
	ConfigGeneration uint32
	ShmRegionSelect  uint32
	InterruptStatus  uint32

	Queues []QueueSnapshot
}

const transportSnapshotVersion = 1

// Snapshot captures the transport's full persisted state. Safe to call at
// any point in the status lifecycle; activation state is captured as-is.
func (t *Transport) Snapshot() TransportSnapshot {
	snap := TransportSnapshot{
		Version:          transportSnapshotVersion,
		DeviceActivated:  t.deviceActivated.Load(),
		FeaturesSelect:   t.featuresSelect,
		AckedFeaturesSel: t.ackedFeaturesSelect,
		QueueSelect:      t.queueSelect,
		DriverStatus:     t.driverStatus,
		ConfigGeneration: t.configGeneration,
		ShmRegionSelect:  t.shmRegionSelect,
		InterruptStatus:  t.interruptStatus.Load(),
		Queues:           make([]QueueSnapshot, len(t.queues)),
	}
	for i, q := range t.queues {
		snap.Queues[i] = QueueSnapshot{
			MaxSize:   q.MaxSize,
			Size:      q.Size,
			Ready:     q.Ready,
			DescTable: q.DescTable,
			AvailRing: q.AvailRing,
			UsedRing:  q.UsedRing,
		}
	}
	return snap
}

// Restore replaces the transport's state with a captured snapshot. Scalar
// fields are restored first, then each queue's ring addresses are replayed
// through the queue's try-set-address validation (live guest register
// writes store the addresses without it), then each ready queue's cursors are rehydrated from the guest's
// current used index. If the snapshot shows the device was activated and
// the driver is ready, activation is re-run synchronously (no barrier: the
// caller is responsible for not being mid-dispatch during restore).
func (t *Transport) Restore(snap TransportSnapshot) error {
	if len(snap.Queues) != len(t.queues) {
		return fmt.Errorf("virtio: snapshot has %d queues, transport has %d", len(snap.Queues), len(t.queues))
	}

	t.featuresSelect = snap.FeaturesSelect
	t.ackedFeaturesSelect = snap.AckedFeaturesSel
	t.queueSelect = snap.QueueSelect
	t.driverStatus = snap.DriverStatus
	t.configGeneration = snap.ConfigGeneration
	t.shmRegionSelect = snap.ShmRegionSelect
	t.interruptStatus.Store(snap.InterruptStatus)

	for i, qs := range snap.Queues {
		q := t.queues[i]
		q.MaxSize = qs.MaxSize
		q.Size = qs.Size
		q.Ready = qs.Ready

		if err := q.TrySetDescTableAddress(qs.DescTable); err != nil {
			return fmt.Errorf("virtio: restore queue %d: %w", i, err)
		}
		if err := q.TrySetAvailRingAddress(qs.AvailRing); err != nil {
			return fmt.Errorf("virtio: restore queue %d: %w", i, err)
		}
		if err := q.TrySetUsedRingAddress(qs.UsedRing); err != nil {
			return fmt.Errorf("virtio: restore queue %d: %w", i, err)
		}

		if q.Ready {
			if err := q.syncUsedIndex(t.memory); err != nil {
				return fmt.Errorf("virtio: restore queue %d: %w", i, err)
			}
		}
	}

	t.deviceActivated.Store(snap.DeviceActivated)
	if snap.DeviceActivated && t.isDriverReady() {
		t.deviceActivated.Store(false)
		if err := t.MaybeActivate(); err != nil {
			return fmt.Errorf("virtio: restore reactivation: %w", err)
		}
	}

	return nil
}

// sectionKey is the key a blob store should use for this transport's
// section: distinct transports sharing one snapshot file never collide.
func (t *Transport) sectionKey() string {
	return t.id + "-section"
}

// EncodeSnapshot gob-encodes the transport's current state, keyed under
// its section key, suitable for insertion into a larger snapshot blob
// store keyed by section.
func (t *Transport) EncodeSnapshot() (key string, data []byte, err error) {
	var buf bytes.Buffer
	if encErr := gob.NewEncoder(&buf).Encode(t.Snapshot()); encErr != nil {
		return "", nil, fmt.Errorf("virtio: encode snapshot: %w", encErr)
	}
	return t.sectionKey(), buf.Bytes(), nil
}

// DecodeAndRestore looks up this transport's section in sections by key
// and restores it. Returns ErrSnapshotMissing if no matching section
// exists.
func (t *Transport) DecodeAndRestore(sections map[string][]byte) error {
	data, ok := sections[t.sectionKey()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotMissing, t.sectionKey())
	}

	var snap TransportSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("virtio: decode snapshot: %w", err)
	}
	return t.Restore(snap)
}
