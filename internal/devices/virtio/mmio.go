package virtio

import (
	"encoding/binary"
	"log/slog"
)

// Control window register offsets. Only 4-byte accesses are honored here;
// the config window at 0x100 and above is width-agnostic and forwarded
// verbatim to the backing device.
const (
	regMagicValue        = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures    = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regInterruptStatus   = 0x060
	regInterruptAck      = 0x064
	regStatus            = 0x070
	regQueueDescLow      = 0x080
	regQueueDescHigh     = 0x084
	regQueueAvailLow     = 0x090
	regQueueAvailHigh    = 0x094
	regQueueUsedLow      = 0x0a0
	regQueueUsedHigh     = 0x0a4
	regShmSel            = 0x0ac
	regShmLenLow         = 0x0b0
	regShmLenHigh        = 0x0b4
	regShmBaseLow        = 0x0b8
	regShmBaseHigh       = 0x0bc
	regConfigGeneration  = 0x0fc

	configWindowStart = 0x100

	mmioMagicValue = 0x74726976 // "virt"
	mmioVersion    = 2
	vendorID       = 0
)

// Read services the 0x000-0xFFF register window. Unknown control offsets
// and malformed widths are absorbed and logged; data is left untouched so
// the caller sees no update.
func (t *Transport) Read(offset uint64, data []byte) {
	if offset >= configWindowStart {
		t.device.ReadConfig(offset-configWindowStart, data)
		return
	}

	if len(data) != 4 {
		slog.Warn("virtio-mmio: non-4-byte control read ignored", "offset", offset, "width", len(data))
		return
	}

	v, ok := t.readRegister(offset)
	if !ok {
		slog.Warn("virtio-mmio: read of unknown control offset ignored", "offset", offset)
		return
	}
	binary.LittleEndian.PutUint32(data, v)
}

func (t *Transport) readRegister(offset uint64) (uint32, bool) {
	switch offset {
	case regMagicValue:
		return mmioMagicValue, true
	case regVersion:
		return mmioVersion, true
	case regDeviceID:
		return t.device.DeviceType(), true
	case regVendorID:
		return vendorID, true
	case regDeviceFeatures:
		if t.featuresSelect < 2 {
			return uint32(t.device.Features() >> (t.featuresSelect * 32)), true
		}
		return 0, true
	case regQueueNumMax:
		if q := t.selectedQueue(); q != nil {
			return uint32(q.MaxSize), true
		}
		return 0, true
	case regQueueReady:
		if q := t.selectedQueue(); q != nil && q.Ready {
			return 1, true
		}
		return 0, true
	case regInterruptStatus:
		return t.interruptStatus.Load(), true
	case regStatus:
		return t.driverStatus, true
	case regConfigGeneration:
		return t.configGeneration, true
	case regShmLenLow, regShmLenHigh, regShmBaseLow, regShmBaseHigh:
		return t.readShm(offset), true
	default:
		return 0, false
	}
}

// readShm implements the SHM region query table. Absent a region table, or
// a selector past its length, length reads as all-ones and base reads as
// zero, which the guest interprets as "no region".
func (t *Transport) readShm(offset uint64) uint32 {
	regions, ok := t.device.ShmRegions()
	var length, base uint64
	if !ok || int(t.shmRegionSelect) >= len(regions.Regions) {
		length, base = ^uint64(0), 0
	} else {
		r := regions.Regions[t.shmRegionSelect]
		length = r.Len
		base = regions.BaseGPA + r.Offset
	}

	switch offset {
	case regShmLenLow:
		return uint32(length)
	case regShmLenHigh:
		return uint32(length >> 32)
	case regShmBaseLow:
		return uint32(base)
	case regShmBaseHigh:
		return uint32(base >> 32)
	default:
		slog.Error("virtio-mmio: unreachable shm offset", "offset", offset)
		return 0
	}
}

// Write services the 0x000-0xFFF register window. It returns a non-nil
// Barrier when, after a control-window write, the driver is in the ready
// state and the device is not activated (normally the STATUS write that
// reaches the ready set; after a failed activation, any later control
// write queues a new activation): the caller (the MMIO dispatcher) must release its locks
// and block on the barrier before dispatching the next access to this
// transport.
func (t *Transport) Write(offset uint64, data []byte) *Barrier {
	if offset >= configWindowStart {
		t.device.WriteConfig(offset-configWindowStart, data)
		return nil
	}

	if len(data) != 4 {
		slog.Warn("virtio-mmio: non-4-byte control write ignored", "offset", offset, "width", len(data))
		return nil
	}

	v := binary.LittleEndian.Uint32(data)
	if !t.writeRegister(offset, v) {
		slog.Warn("virtio-mmio: write to unknown control offset ignored", "offset", offset, "value", v)
		return nil
	}

	return t.afterStatusWrite()
}

// writeRegister applies a single control-window write. Writes targeting a
// selected queue silently no-op when queue_select is out of range.
func (t *Transport) writeRegister(offset uint64, v uint32) bool {
	switch offset {
	case regDeviceFeaturesSel:
		t.featuresSelect = v
	case regDriverFeaturesSel:
		t.ackedFeaturesSelect = v
	case regDriverFeatures:
		if t.ackedFeaturesSelect < 2 {
			t.device.AckFeatures(uint64(v) << (t.ackedFeaturesSelect * 32))
		} else {
			slog.Warn("virtio-mmio: ack_features on out-of-range page ignored", "page", t.ackedFeaturesSelect, "value", v)
		}
	case regQueueSel:
		t.queueSelect = v
	case regQueueNum:
		if q := t.selectedQueue(); q != nil {
			if err := q.SetSize(uint16(v)); err != nil {
				slog.Warn("virtio-mmio: invalid queue size write ignored", "queue", t.queueSelect, "size", v, "err", err)
			}
		}
	case regQueueReady:
		if q := t.selectedQueue(); q != nil {
			q.SetReady(v == 1)
		}
	case regInterruptAck:
		t.interruptStatus.And(^v)
	case regStatus:
		t.driverStatus = v
	case regQueueDescLow:
		t.withSelectedQueue(func(q *Queue) { q.DescTable = (q.DescTable &^ 0xffffffff) | uint64(v) })
	case regQueueDescHigh:
		t.withSelectedQueue(func(q *Queue) { q.DescTable = (q.DescTable &^ (uint64(0xffffffff) << 32)) | (uint64(v) << 32) })
	case regQueueAvailLow:
		t.withSelectedQueue(func(q *Queue) { q.AvailRing = (q.AvailRing &^ 0xffffffff) | uint64(v) })
	case regQueueAvailHigh:
		t.withSelectedQueue(func(q *Queue) { q.AvailRing = (q.AvailRing &^ (uint64(0xffffffff) << 32)) | (uint64(v) << 32) })
	case regQueueUsedLow:
		t.withSelectedQueue(func(q *Queue) { q.UsedRing = (q.UsedRing &^ 0xffffffff) | uint64(v) })
	case regQueueUsedHigh:
		t.withSelectedQueue(func(q *Queue) { q.UsedRing = (q.UsedRing &^ (uint64(0xffffffff) << 32)) | (uint64(v) << 32) })
	case regShmSel:
		t.shmRegionSelect = v
	default:
		return false
	}
	return true
}

func (t *Transport) withSelectedQueue(f func(q *Queue)) {
	if q := t.selectedQueue(); q != nil {
		f(q)
	}
}
