package zbc

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
)

// checkTransfer validates a read/write buffer against the block count and
// the device's logical block size. The buffer must hold exactly lbaCount
// whole logical blocks.
func (d *Device) checkTransfer(buf []byte, lbaCount uint32) (int, error) {
	// Widen before multiplying: the product can exceed a 32-bit int for
	// counts that are still valid on the wire.
	size := uint64(lbaCount) * uint64(d.geo.LogicalBlockSize)
	if uint64(len(buf)) != size {
		return 0, fmt.Errorf("buffer is %d B, %d blocks of %d B need %d B: %w",
			len(buf), lbaCount, d.geo.LogicalBlockSize, size, ErrInvalidArgument)
	}
	return int(size), nil
}

// Read transfers lbaCount logical blocks into buf from the device,
// starting lbaOfst blocks into the given zone. Returns the number of
// blocks actually read, which may be less than requested when the
// transport reports a residual; a short read is not an error.
func (d *Device) Read(ctx context.Context, zone *Zone, buf []byte, lbaCount uint32, lbaOfst uint64) (int64, error) {
	size, err := d.checkTransfer(buf, lbaCount)
	if err != nil {
		return 0, err
	}

	cmd, err := sg.NewCommand(codec.OpRead16, buf, 0)
	if err != nil {
		return 0, err
	}
	defer cmd.Close()

	codec.FillRead16(cmd.CDB, zone.StartLBA+lbaOfst, lbaCount)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return 0, fmt.Errorf("read %s: %w", d.path, err)
	}

	return d.blocksTransferred(size, cmd.Residual), nil
}

// Write transfers lbaCount logical blocks from buf to the device,
// starting lbaOfst blocks into the given zone. Returns the number of
// blocks actually written; a short write is not an error.
func (d *Device) Write(ctx context.Context, zone *Zone, buf []byte, lbaCount uint32, lbaOfst uint64) (int64, error) {
	size, err := d.checkTransfer(buf, lbaCount)
	if err != nil {
		return 0, err
	}

	cmd, err := sg.NewCommand(codec.OpWrite16, buf, 0)
	if err != nil {
		return 0, err
	}
	defer cmd.Close()

	cmd.Direction = sg.DirectionToDevice
	codec.FillWrite16(cmd.CDB, zone.StartLBA+lbaOfst, lbaCount)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return 0, fmt.Errorf("write %s: %w", d.path, err)
	}

	return d.blocksTransferred(size, cmd.Residual), nil
}

// blocksTransferred converts a transport residual into the count of whole
// logical blocks that actually moved.
func (d *Device) blocksTransferred(size, residual int) int64 {
	n := int64(size-residual) / int64(d.geo.LogicalBlockSize)
	if residual != 0 {
		klog.V(4).Infof("%s: partial transfer, %d of %d B moved (%d blocks)",
			d.path, size-residual, size, n)
	}
	return n
}

// Flush forces cached data to the medium via SYNCHRONIZE CACHE 16. Zero
// lba and lbaCount select the whole device. With immediate set the device
// may complete the command before the flush finishes.
func (d *Device) Flush(ctx context.Context, lba uint64, lbaCount uint32, immediate bool) error {
	cmd, err := sg.NewCommand(codec.OpSynchronizeCache16, nil, 0)
	if err != nil {
		return err
	}
	defer cmd.Close()

	codec.FillSynchronizeCache16(cmd.CDB, lba, lbaCount, immediate)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return fmt.Errorf("flush %s: %w", d.path, err)
	}

	klog.V(2).Infof("%s: cache synchronized (lba=%d count=%d immediate=%v)",
		d.path, lba, lbaCount, immediate)
	return nil
}
