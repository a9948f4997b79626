package zbc

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
)

// Peripheral device type codes from the INQUIRY reply. Host-aware drives
// report as standard direct-access devices; host-managed drives have a
// dedicated code.
const (
	devTypeHostAware   = 0x00
	devTypeHostManaged = 0x14
)

// ZonedDevice is the capability set of an open zoned block device. One
// implementation exists per transport family; *Device is the SCSI SG_IO
// implementation and is selected by Open.
type ZonedDevice interface {
	// Geometry returns the capacity and block sizing established during
	// bring-up.
	Geometry() Geometry

	// Read transfers lbaCount blocks from the zone, starting lbaOfst
	// blocks into it, and returns the number of blocks actually read.
	Read(ctx context.Context, zone *Zone, buf []byte, lbaCount uint32, lbaOfst uint64) (int64, error)

	// Write transfers lbaCount blocks to the zone, starting lbaOfst
	// blocks into it, and returns the number of blocks actually written.
	Write(ctx context.Context, zone *Zone, buf []byte, lbaCount uint32, lbaOfst uint64) (int64, error)

	// Flush forces cached data to the medium. Zero lba and lbaCount
	// flush the whole device.
	Flush(ctx context.Context, lba uint64, lbaCount uint32, immediate bool) error

	// ReportZones decodes up to cap-of-zones descriptors starting at
	// startLBA and returns the count actually written into zones.
	ReportZones(ctx context.Context, startLBA uint64, opts ReportingOptions, zones []Zone) (int, error)

	// ResetWritePointer resets the zone starting at startLBA, or every
	// zone when startLBA is ResetAllZones.
	ResetWritePointer(ctx context.Context, startLBA uint64) error

	// SetZones reconfigures zone sizing on an emulated device.
	SetZones(ctx context.Context, convSize, seqSize uint64) error

	// SetWritePointer forces a zone's write pointer on an emulated
	// device.
	SetWritePointer(ctx context.Context, startLBA, writePointer uint64) error

	// Close releases the device handle.
	Close() error
}

// Device is an open zoned block device behind the SG_IO transport.
//
// Operations are synchronous and not internally serialized; callers that
// share a Device across goroutines must keep at most one command in
// flight per handle.
type Device struct {
	path  string
	fd    int
	flags int
	exec  sg.Executor
	geo   Geometry
}

var _ ZonedDevice = (*Device)(nil)

// Option adjusts how Open constructs a Device.
type Option func(*Device)

// WithExecutor substitutes the command executor, e.g. an instrumented or
// fake transport.
func WithExecutor(e sg.Executor) Option {
	return func(d *Device) { d.exec = e }
}

// Open opens and classifies a zoned block device. Bring-up runs INQUIRY
// to reject unsupported families and models, then READ CAPACITY 16 to
// establish geometry. On any failure the handle is closed and no Device
// is returned.
func Open(ctx context.Context, path string, flags int, opts ...Option) (*Device, error) {
	fd, err := sg.OpenDevice(path, flags)
	if err != nil {
		return nil, err
	}

	dev := &Device{
		path:  path,
		fd:    fd,
		flags: flags,
		exec:  sg.NewExecutor(),
	}
	for _, opt := range opts {
		opt(dev)
	}

	if err := dev.bringUp(ctx); err != nil {
		unix.Close(fd)
		return nil, err
	}

	klog.V(2).Infof("Opened zoned device %s: %s", path, dev.geo)
	return dev, nil
}

// bringUp classifies the device and populates geometry, in order, each
// step short-circuiting on failure.
func (d *Device) bringUp(ctx context.Context) error {
	reply, err := d.inquiry(ctx)
	if err != nil {
		return fmt.Errorf("inquiry %s: %w", d.path, err)
	}

	if codec.IsATA(reply) {
		return fmt.Errorf("%s: ATA device family: %w", d.path, ErrUnsupportedDevice)
	}

	inq := codec.DecodeInquiry(reply)
	klog.V(4).Infof("%s: vendor=%q product=%q rev=%q type=0x%02x",
		d.path, inq.Vendor, inq.Product, inq.Revision, inq.PeripheralType)

	switch inq.PeripheralType {
	case devTypeHostManaged:
		d.geo.Model = ModelHostManaged
	case devTypeHostAware:
		return fmt.Errorf("%s: host-aware model: %w", d.path, ErrUnsupportedDevice)
	default:
		return fmt.Errorf("%s: peripheral type 0x%02x: %w",
			d.path, inq.PeripheralType, ErrUnknownDeviceType)
	}

	return d.readCapacity(ctx)
}

// inquiry runs a standard INQUIRY and returns the raw reply buffer.
// Ownership of the buffer passes to the caller.
func (d *Device) inquiry(ctx context.Context) ([]byte, error) {
	cmd, err := sg.NewCommand(codec.OpInquiry, nil, codec.InquiryReplyLength)
	if err != nil {
		return nil, err
	}
	defer cmd.Close()

	codec.FillInquiry(cmd.CDB)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return nil, err
	}

	return cmd.TakeBuffer(), nil
}

// readCapacity runs READ CAPACITY 16 and derives the device geometry.
func (d *Device) readCapacity(ctx context.Context) error {
	cmd, err := sg.NewCommand(codec.OpServiceActionIn16, nil, codec.CapacityReplyLength)
	if err != nil {
		return err
	}
	defer cmd.Close()

	codec.FillReadCapacity16(cmd.CDB)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return fmt.Errorf("read capacity %s: %w", d.path, err)
	}

	info := codec.DecodeCapacity(cmd.Buf)

	if info.LogicalBlockSize == 0 {
		return fmt.Errorf("%s: zero logical block size: %w", d.path, ErrInvalidGeometry)
	}
	if info.LogicalBlocks == 0 {
		return fmt.Errorf("%s: zero logical block count: %w", d.path, ErrInvalidGeometry)
	}

	d.geo.LogicalBlockSize = info.LogicalBlockSize
	d.geo.LogicalBlocks = info.LogicalBlocks
	d.geo.PhysicalBlockSize = info.LogicalBlockSize * info.LogicalPerPhysical
	d.geo.PhysicalBlocks = info.LogicalBlocks / uint64(info.LogicalPerPhysical)

	return nil
}

// Geometry returns the geometry established during bring-up.
func (d *Device) Geometry() Geometry {
	return d.geo
}

// Path returns the device node path the Device was opened from.
func (d *Device) Path() string {
	return d.path
}

// Close releases the device handle. The Device must not be used after.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	klog.V(2).Infof("Closed zoned device %s", d.path)
	return nil
}
