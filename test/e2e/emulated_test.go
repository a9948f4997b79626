package e2e

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
)

// zoneState is one zone of the emulated device.
type zoneState struct {
	typ       byte
	condition byte
	start     uint64
	length    uint64
	wp        uint64
}

// emulatedDevice implements sg.Executor as an in-memory host-managed
// zoned device: INQUIRY/READ CAPACITY bring-up, zone reports, sequential
// write-pointer enforcement, and the emulated-device configuration
// commands.
type emulatedDevice struct {
	mu        sync.Mutex
	blockSize uint32
	zones     []zoneState
	data      []byte
}

const (
	zTypeConv = 0x1
	zTypeSeq  = 0x2

	zCondNotWP   = 0x0
	zCondEmpty   = 0x1
	zCondImpOpen = 0x2
	zCondFull    = 0xe
)

// newEmulatedDevice builds a device with one conventional zone followed
// by sequential zones of equal size.
func newEmulatedDevice(blockSize uint32, convBlocks, seqBlocks uint64, seqZones int) *emulatedDevice {
	d := &emulatedDevice{blockSize: blockSize}
	d.layout(convBlocks, seqBlocks, seqZones)
	return d
}

func (d *emulatedDevice) layout(convBlocks, seqBlocks uint64, seqZones int) {
	d.zones = d.zones[:0]
	next := uint64(0)
	if convBlocks > 0 {
		d.zones = append(d.zones, zoneState{
			typ: zTypeConv, condition: zCondNotWP, start: 0, length: convBlocks, wp: 0,
		})
		next = convBlocks
	}
	for i := 0; i < seqZones; i++ {
		d.zones = append(d.zones, zoneState{
			typ: zTypeSeq, condition: zCondEmpty, start: next, length: seqBlocks, wp: next,
		})
		next += seqBlocks
	}
	d.data = make([]byte, next*uint64(d.blockSize))
}

func (d *emulatedDevice) capacity() uint64 {
	last := d.zones[len(d.zones)-1]
	return last.start + last.length
}

func (d *emulatedDevice) Execute(_ context.Context, _ int, cmd *sg.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch cmd.CDB[0] {
	case codec.OpInquiry:
		return d.inquiry(cmd)
	case codec.OpServiceActionIn16:
		switch cmd.CDB[1] & 0x1f {
		case codec.SAReadCapacity16:
			return d.readCapacity(cmd)
		case codec.SAReportZones:
			return d.reportZones(cmd)
		}
	case codec.OpRead16:
		return d.read(cmd)
	case codec.OpWrite16:
		return d.write(cmd)
	case codec.OpSynchronizeCache16:
		return nil
	case codec.OpZoneOut:
		switch cmd.CDB[1] & 0x1f {
		case codec.SAResetWritePointer:
			return d.resetWP(cmd)
		case codec.SASetZones:
			return d.setZones(cmd)
		case codec.SASetWritePointer:
			return d.setWP(cmd)
		}
	}
	return &sg.SenseError{Key: 0x05, ASC: 0x20, ASCQ: 0x00} // invalid opcode
}

func (d *emulatedDevice) inquiry(cmd *sg.Command) error {
	buf := cmd.Buf
	buf[0] = 0x14 // host-managed
	copy(buf[8:16], "ZBCEMU  ")
	copy(buf[16:32], "go emulated zbd ")
	copy(buf[32:36], "0001")
	return nil
}

func (d *emulatedDevice) readCapacity(cmd *sg.Command) error {
	binary.BigEndian.PutUint64(cmd.Buf[0:8], d.capacity()-1)
	binary.BigEndian.PutUint32(cmd.Buf[8:12], d.blockSize)
	return nil
}

func (d *emulatedDevice) reportZones(cmd *sg.Command) error {
	start := binary.BigEndian.Uint64(cmd.CDB[2:10])
	ro := cmd.CDB[14] & 0x0f

	var matched []zoneState
	for _, z := range d.zones {
		if z.start+z.length <= start {
			continue
		}
		switch ro {
		case 0x00:
			// all zones
		case 0x01:
			if z.condition != zCondEmpty {
				continue
			}
		case 0x05:
			if z.condition != zCondFull {
				continue
			}
		default:
			continue
		}
		matched = append(matched, z)
	}

	binary.BigEndian.PutUint32(cmd.Buf[0:4], uint32(len(matched)*codec.ZoneDescriptorLength))
	fit := (len(cmd.Buf) - codec.ReportHeaderLength) / codec.ZoneDescriptorLength
	for i, z := range matched {
		if i >= fit {
			break
		}
		desc := cmd.Buf[codec.ReportHeaderLength+i*codec.ZoneDescriptorLength:]
		desc[0] = z.typ
		desc[1] = z.condition << 4
		binary.BigEndian.PutUint64(desc[8:16], z.length)
		binary.BigEndian.PutUint64(desc[16:24], z.start)
		binary.BigEndian.PutUint64(desc[24:32], z.wp)
	}
	return nil
}

func (d *emulatedDevice) zoneAt(lba uint64) *zoneState {
	for i := range d.zones {
		z := &d.zones[i]
		if lba >= z.start && lba < z.start+z.length {
			return z
		}
	}
	return nil
}

func (d *emulatedDevice) read(cmd *sg.Command) error {
	lba := binary.BigEndian.Uint64(cmd.CDB[2:10])
	count := binary.BigEndian.Uint32(cmd.CDB[10:14])
	if lba+uint64(count) > d.capacity() {
		return &sg.SenseError{Key: 0x05, ASC: 0x21, ASCQ: 0x00} // LBA out of range
	}
	off := lba * uint64(d.blockSize)
	copy(cmd.Buf, d.data[off:off+uint64(count)*uint64(d.blockSize)])
	return nil
}

func (d *emulatedDevice) write(cmd *sg.Command) error {
	lba := binary.BigEndian.Uint64(cmd.CDB[2:10])
	count := binary.BigEndian.Uint32(cmd.CDB[10:14])

	z := d.zoneAt(lba)
	if z == nil || lba+uint64(count) > z.start+z.length {
		return &sg.SenseError{Key: 0x05, ASC: 0x21, ASCQ: 0x00}
	}
	if z.typ == zTypeSeq {
		if lba != z.wp {
			return &sg.SenseError{Key: 0x05, ASC: 0x21, ASCQ: 0x04} // unaligned write
		}
		z.wp += uint64(count)
		if z.wp == z.start+z.length {
			z.condition = zCondFull
		} else {
			z.condition = zCondImpOpen
		}
	}

	off := lba * uint64(d.blockSize)
	copy(d.data[off:], cmd.Buf)
	return nil
}

func (d *emulatedDevice) resetWP(cmd *sg.Command) error {
	if cmd.CDB[14]&0x01 != 0 {
		for i := range d.zones {
			z := &d.zones[i]
			if z.typ == zTypeSeq {
				z.wp = z.start
				z.condition = zCondEmpty
			}
		}
		return nil
	}

	lba := binary.BigEndian.Uint64(cmd.CDB[2:10])
	for i := range d.zones {
		z := &d.zones[i]
		if z.start == lba && z.typ == zTypeSeq {
			z.wp = z.start
			z.condition = zCondEmpty
			return nil
		}
	}
	return &sg.SenseError{Key: 0x05, ASC: 0x24, ASCQ: 0x00} // invalid field
}

func (d *emulatedDevice) setZones(cmd *sg.Command) error {
	conv := get56(cmd.CDB[2:9])
	seq := get56(cmd.CDB[9:16])
	if seq == 0 {
		return &sg.SenseError{Key: 0x05, ASC: 0x24, ASCQ: 0x00}
	}
	// Keep total capacity, refill with the new sizing
	total := d.capacity()
	seqZones := int((total - conv) / seq)
	d.layout(conv, seq, seqZones)
	return nil
}

func (d *emulatedDevice) setWP(cmd *sg.Command) error {
	lba := get56(cmd.CDB[2:9])
	wp := get56(cmd.CDB[9:16])
	for i := range d.zones {
		z := &d.zones[i]
		if z.start == lba && z.typ == zTypeSeq {
			if wp < z.start || wp > z.start+z.length {
				return &sg.SenseError{Key: 0x05, ASC: 0x24, ASCQ: 0x00}
			}
			z.wp = wp
			switch wp {
			case z.start:
				z.condition = zCondEmpty
			case z.start + z.length:
				z.condition = zCondFull
			default:
				z.condition = zCondImpOpen
			}
			return nil
		}
	}
	return &sg.SenseError{Key: 0x05, ASC: 0x24, ASCQ: 0x00}
}

func get56(b []byte) uint64 {
	var v uint64
	for i := 0; i < 7; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// pattern fills a buffer with a deterministic per-block pattern.
func pattern(blocks int, blockSize uint32, seed byte) []byte {
	buf := make([]byte, blocks*int(blockSize))
	for i := range buf {
		buf[i] = byte(i) ^ seed
	}
	copy(buf, fmt.Sprintf("block-pattern-%02x", seed))
	return buf
}
