// Package codec builds SCSI command descriptor blocks (CDBs) and decodes
// fixed-layout response buffers for the ZBC zoned-device command set.
//
// Every byte offset, opcode, service action and bit mask used on the wire
// lives in this package. All multi-byte fields are big-endian regardless of
// host byte order. Callers hand in CDB slices of CDBLength bytes and raw
// response buffers; nothing here touches the transport.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// CDBLength is the fixed CDB size for every command in this set.
	CDBLength = 16

	// OpInquiry is the INQUIRY operation code.
	OpInquiry = 0x12

	// OpServiceActionIn16 is the SERVICE ACTION IN (16) operation code,
	// shared by READ CAPACITY 16 and REPORT ZONES.
	OpServiceActionIn16 = 0x9e

	// SAReadCapacity16 is the READ CAPACITY 16 service action.
	SAReadCapacity16 = 0x10

	// SAReportZones is the REPORT ZONES service action.
	SAReportZones = 0x14

	// OpRead16 and OpWrite16 are the READ (16) / WRITE (16) operation codes.
	OpRead16  = 0x88
	OpWrite16 = 0x8a

	// OpSynchronizeCache16 is the SYNCHRONIZE CACHE (16) operation code.
	OpSynchronizeCache16 = 0x91

	// OpZoneOut is the vendor zone-management operation code carrying the
	// RESET WRITE POINTER, SET ZONES and SET WRITE POINTER service actions.
	OpZoneOut = 0x94

	// SAResetWritePointer resets one zone's write pointer, or all of them.
	SAResetWritePointer = 0x14

	// SASetZones reconfigures zone sizing on an emulated device.
	SASetZones = 0x15

	// SASetWritePointer forces a write-pointer value on an emulated device.
	SASetWritePointer = 0x16

	// InquiryReplyLength is the standard INQUIRY allocation length.
	InquiryReplyLength = 96

	// CapacityReplyLength is the READ CAPACITY 16 allocation length.
	CapacityReplyLength = 32

	// ReportHeaderLength is the size of the REPORT ZONES response header.
	ReportHeaderLength = 64

	// ZoneDescriptorLength is the size of one zone descriptor in a
	// REPORT ZONES response.
	ZoneDescriptorLength = 64
)

// serviceActionMask extracts the service action from CDB byte 1.
const serviceActionMask = 0x1f

// FillInquiry fills cdb with a standard INQUIRY (no EVPD, no page code).
func FillInquiry(cdb []byte) {
	cdb[0] = OpInquiry
	cdb[4] = InquiryReplyLength
}

// InquiryData is the decoded portion of a standard INQUIRY reply.
type InquiryData struct {
	// PeripheralType is the 5-bit peripheral device type from byte 0.
	PeripheralType byte

	Vendor   string // bytes 8-15
	Product  string // bytes 16-31
	Revision string // bytes 32-35
}

// DecodeInquiry extracts the identification fields from an INQUIRY reply.
func DecodeInquiry(buf []byte) InquiryData {
	return InquiryData{
		PeripheralType: buf[0] & 0x1f,
		Vendor:         trimmed(buf[8:16]),
		Product:        trimmed(buf[16:32]),
		Revision:       trimmed(buf[32:36]),
	}
}

// IsATA reports whether an INQUIRY reply identifies an ATA device behind a
// SAT layer: bytes 8-10 of the vendor identification equal "ATA".
func IsATA(buf []byte) bool {
	return bytes.Equal(buf[8:11], []byte("ATA"))
}

// FillReadCapacity16 fills cdb with a READ CAPACITY 16 command.
func FillReadCapacity16(cdb []byte) {
	cdb[0] = OpServiceActionIn16
	cdb[1] = SAReadCapacity16
	binary.BigEndian.PutUint32(cdb[10:14], CapacityReplyLength)
}

// Capacity is the decoded portion of a READ CAPACITY 16 reply.
type Capacity struct {
	// LogicalBlocks is the total logical block count (last LBA + 1).
	LogicalBlocks uint64

	// LogicalBlockSize is the logical block size in bytes.
	LogicalBlockSize uint32

	// LogicalPerPhysical is the number of logical blocks per physical
	// block, derived from the 4-bit exponent at byte 13.
	LogicalPerPhysical uint32
}

// DecodeCapacity decodes a READ CAPACITY 16 reply.
//
// Byte 13 bits 3:0 carry an exponent n with logical-per-physical = 2^n.
func DecodeCapacity(buf []byte) Capacity {
	return Capacity{
		LogicalBlocks:      binary.BigEndian.Uint64(buf[0:8]) + 1,
		LogicalBlockSize:   binary.BigEndian.Uint32(buf[8:12]),
		LogicalPerPhysical: 1 << (buf[13] & 0x0f),
	}
}

// FillReportZones fills cdb with a REPORT ZONES command.
// Only the low 4 bits of opts are defined; the caller validates the rest.
func FillReportZones(cdb []byte, startLBA uint64, allocLen uint32, opts byte) {
	cdb[0] = OpServiceActionIn16
	cdb[1] = SAReportZones
	binary.BigEndian.PutUint64(cdb[2:10], startLBA)
	binary.BigEndian.PutUint32(cdb[10:14], allocLen)
	cdb[14] = opts & 0x0f
}

// ReportedZoneCount returns the zone count a REPORT ZONES response header
// claims: the 4-byte zone list length at offset 0 divided by the
// descriptor size.
func ReportedZoneCount(buf []byte) int {
	return int(binary.BigEndian.Uint32(buf[0:4])) / ZoneDescriptorLength
}

// ZoneDescriptor is one decoded 64-byte zone descriptor.
type ZoneDescriptor struct {
	Type         byte   // byte 0 bits 3:0
	Condition    byte   // byte 1 bits 7:4
	ResetNeeded  bool   // byte 1 bit 0
	Length       uint64 // bytes 8-15
	StartLBA     uint64 // bytes 16-23
	WritePointer uint64 // bytes 24-31
}

// DecodeZoneDescriptor decodes the descriptor at the start of buf.
func DecodeZoneDescriptor(buf []byte) ZoneDescriptor {
	return ZoneDescriptor{
		Type:         buf[0] & 0x0f,
		Condition:    (buf[1] >> 4) & 0x0f,
		ResetNeeded:  buf[1]&0x01 != 0,
		Length:       binary.BigEndian.Uint64(buf[8:16]),
		StartLBA:     binary.BigEndian.Uint64(buf[16:24]),
		WritePointer: binary.BigEndian.Uint64(buf[24:32]),
	}
}

// rwFlags is CDB byte 1 for READ (16) / WRITE (16): FUA set, no protection.
const rwFlags = 0x10

// FillRead16 fills cdb with a READ (16) command.
func FillRead16(cdb []byte, lba uint64, count uint32) {
	cdb[0] = OpRead16
	cdb[1] = rwFlags
	binary.BigEndian.PutUint64(cdb[2:10], lba)
	binary.BigEndian.PutUint32(cdb[10:14], count)
}

// FillWrite16 fills cdb with a WRITE (16) command.
func FillWrite16(cdb []byte, lba uint64, count uint32) {
	cdb[0] = OpWrite16
	cdb[1] = rwFlags
	binary.BigEndian.PutUint64(cdb[2:10], lba)
	binary.BigEndian.PutUint32(cdb[10:14], count)
}

// FillSynchronizeCache16 fills cdb with a SYNCHRONIZE CACHE (16) command.
// A zero lba and count mean the whole device; those fields stay zero.
func FillSynchronizeCache16(cdb []byte, lba uint64, count uint32, immediate bool) {
	cdb[0] = OpSynchronizeCache16
	if immediate {
		cdb[1] = 0x02
	}
	if lba != 0 {
		binary.BigEndian.PutUint64(cdb[2:10], lba)
	}
	if count != 0 {
		binary.BigEndian.PutUint32(cdb[10:14], count)
	}
}

// ResetAllZones is the sentinel start LBA selecting every zone.
const ResetAllZones = ^uint64(0)

// FillResetWritePointer fills cdb with a RESET WRITE POINTER command.
// The ResetAllZones sentinel sets the reset-all bit and never encodes an
// LBA; any other value resets only the zone starting at startLBA.
func FillResetWritePointer(cdb []byte, startLBA uint64) {
	cdb[0] = OpZoneOut
	cdb[1] = SAResetWritePointer
	if startLBA == ResetAllZones {
		cdb[14] = 0x01
	} else {
		binary.BigEndian.PutUint64(cdb[2:10], startLBA)
	}
}

// FillSetZones fills cdb with a SET ZONES command (emulated devices only).
// Conventional and sequential zone sizes are 7-byte big-endian fields.
func FillSetZones(cdb []byte, convSize, seqSize uint64) {
	cdb[0] = OpZoneOut
	cdb[1] = SASetZones
	putUint56(cdb[2:9], convSize)
	putUint56(cdb[9:16], seqSize)
}

// FillSetWritePointer fills cdb with a SET WRITE POINTER command
// (emulated devices only).
func FillSetWritePointer(cdb []byte, startLBA, writePointer uint64) {
	cdb[0] = OpZoneOut
	cdb[1] = SASetWritePointer
	putUint56(cdb[2:9], startLBA)
	putUint56(cdb[9:16], writePointer)
}

// putUint56 writes the low 56 bits of v into the 7-byte slice b, MSB first.
func putUint56(b []byte, v uint64) {
	_ = b[6]
	for i := 6; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// CommandName returns a human-readable name for a filled CDB, used for
// logging and metric labels.
func CommandName(cdb []byte) string {
	switch cdb[0] {
	case OpInquiry:
		return "INQUIRY"
	case OpRead16:
		return "READ_16"
	case OpWrite16:
		return "WRITE_16"
	case OpSynchronizeCache16:
		return "SYNCHRONIZE_CACHE_16"
	case OpServiceActionIn16:
		switch cdb[1] & serviceActionMask {
		case SAReadCapacity16:
			return "READ_CAPACITY_16"
		case SAReportZones:
			return "REPORT_ZONES"
		}
	case OpZoneOut:
		switch cdb[1] & serviceActionMask {
		case SAResetWritePointer:
			return "RESET_WRITE_POINTER"
		case SASetZones:
			return "SET_ZONES"
		case SASetWritePointer:
			return "SET_WRITE_POINTER"
		}
	}
	return fmt.Sprintf("OPCODE_%02X", cdb[0])
}

// trimmed converts a fixed-width, space-padded identification field.
func trimmed(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}
