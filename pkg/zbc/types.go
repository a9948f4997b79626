package zbc

import "fmt"

// ZoneType is the 4-bit zone type code from a zone descriptor.
type ZoneType byte

const (
	// ZoneTypeConventional zones accept writes at any LBA and have no
	// write pointer.
	ZoneTypeConventional ZoneType = 0x1

	// ZoneTypeSequentialRequired zones must be written at the write
	// pointer (host-managed devices).
	ZoneTypeSequentialRequired ZoneType = 0x2

	// ZoneTypeSequentialPreferred zones should be written at the write
	// pointer but tolerate random writes (host-aware devices).
	ZoneTypeSequentialPreferred ZoneType = 0x3
)

func (t ZoneType) String() string {
	switch t {
	case ZoneTypeConventional:
		return "conventional"
	case ZoneTypeSequentialRequired:
		return "sequential-write-required"
	case ZoneTypeSequentialPreferred:
		return "sequential-write-preferred"
	}
	return fmt.Sprintf("unknown-type-0x%x", byte(t))
}

// ZoneCondition is the 4-bit zone condition code from a zone descriptor.
// Transitions between conditions are performed by the device; this
// library only decodes them and requests transitions (reset).
type ZoneCondition byte

const (
	ZoneConditionNotWP        ZoneCondition = 0x0
	ZoneConditionEmpty        ZoneCondition = 0x1
	ZoneConditionImplicitOpen ZoneCondition = 0x2
	ZoneConditionExplicitOpen ZoneCondition = 0x3
	ZoneConditionClosed       ZoneCondition = 0x4
	ZoneConditionReadOnly     ZoneCondition = 0xd
	ZoneConditionFull         ZoneCondition = 0xe
	ZoneConditionOffline      ZoneCondition = 0xf
)

func (c ZoneCondition) String() string {
	switch c {
	case ZoneConditionNotWP:
		return "not-write-pointer"
	case ZoneConditionEmpty:
		return "empty"
	case ZoneConditionImplicitOpen:
		return "implicit-open"
	case ZoneConditionExplicitOpen:
		return "explicit-open"
	case ZoneConditionClosed:
		return "closed"
	case ZoneConditionReadOnly:
		return "read-only"
	case ZoneConditionFull:
		return "full"
	case ZoneConditionOffline:
		return "offline"
	}
	return fmt.Sprintf("unknown-condition-0x%x", byte(c))
}

// Zone describes one zone of a device's logical address space, decoded
// fresh from a REPORT ZONES response. Zones are plain values; the caller
// owns the slice they are decoded into.
type Zone struct {
	// Type of the zone
	Type ZoneType

	// Condition of the zone at report time
	Condition ZoneCondition

	// Length of the zone in logical blocks
	Length uint64

	// StartLBA is the first LBA of the zone
	StartLBA uint64

	// WritePointer is the next LBA a sequential zone will accept a
	// write at
	WritePointer uint64

	// ResetNeeded is set when the device recommends resetting the zone
	ResetNeeded bool
}

// IsConventional reports whether the zone has no write pointer.
func (z *Zone) IsConventional() bool {
	return z.Type == ZoneTypeConventional
}

// IsSequential reports whether the zone is one of the sequential variants.
func (z *Zone) IsSequential() bool {
	return z.Type == ZoneTypeSequentialRequired || z.Type == ZoneTypeSequentialPreferred
}

// IsWritable reports whether the zone condition allows further writes.
func (z *Zone) IsWritable() bool {
	switch z.Condition {
	case ZoneConditionNotWP, ZoneConditionEmpty, ZoneConditionImplicitOpen,
		ZoneConditionExplicitOpen, ZoneConditionClosed:
		return true
	}
	return false
}

// IsFull reports whether the zone has reached its write limit.
func (z *Zone) IsFull() bool {
	return z.Condition == ZoneConditionFull
}

// DeviceModel classifies how sequential-write rules are enforced.
type DeviceModel int

const (
	// ModelHostManaged devices expose sequential-write-required zones
	// and reject out-of-order writes themselves.
	ModelHostManaged DeviceModel = iota

	// ModelHostAware devices tolerate random writes. Recognized during
	// bring-up but not driven by this library.
	ModelHostAware
)

func (m DeviceModel) String() string {
	switch m {
	case ModelHostManaged:
		return "host-managed"
	case ModelHostAware:
		return "host-aware"
	}
	return "unknown"
}

// Geometry is the device capacity and block sizing established once
// during bring-up. Immutable afterwards.
type Geometry struct {
	// Model of the device (always ModelHostManaged after a successful
	// bring-up)
	Model DeviceModel

	// LogicalBlockSize in bytes
	LogicalBlockSize uint32

	// LogicalBlocks is the total logical block count
	LogicalBlocks uint64

	// PhysicalBlockSize in bytes
	PhysicalBlockSize uint32

	// PhysicalBlocks is the total physical block count
	PhysicalBlocks uint64
}

func (g Geometry) String() string {
	return fmt.Sprintf("%s, %d logical blocks of %d B (%d physical blocks of %d B)",
		g.Model, g.LogicalBlocks, g.LogicalBlockSize, g.PhysicalBlocks, g.PhysicalBlockSize)
}

// ReportingOptions selects which zones a report includes. Values fit the
// 4-bit reporting-options CDB field.
type ReportingOptions byte

const (
	// ReportAll lists every zone from the start LBA
	ReportAll ReportingOptions = 0x00

	// ReportEmpty lists zones in the empty condition
	ReportEmpty ReportingOptions = 0x01

	// ReportImplicitOpen lists implicitly open zones
	ReportImplicitOpen ReportingOptions = 0x02

	// ReportExplicitOpen lists explicitly open zones
	ReportExplicitOpen ReportingOptions = 0x03

	// ReportClosed lists closed zones
	ReportClosed ReportingOptions = 0x04

	// ReportFull lists full zones
	ReportFull ReportingOptions = 0x05

	// ReportReadOnly lists read-only zones
	ReportReadOnly ReportingOptions = 0x06

	// ReportOffline lists offline zones
	ReportOffline ReportingOptions = 0x07

	// ReportResetNeeded lists zones with the reset-needed flag set
	ReportResetNeeded ReportingOptions = 0x08

	// ReportNonSeqResources lists zones holding non-sequential-write
	// resources
	ReportNonSeqResources ReportingOptions = 0x09

	// maxReportingOptions bounds the 4-bit field
	maxReportingOptions ReportingOptions = 0x0f
)

// Valid reports whether the selector fits the 4-bit CDB field.
func (ro ReportingOptions) Valid() bool {
	return ro <= maxReportingOptions
}
