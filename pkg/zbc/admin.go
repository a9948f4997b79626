package zbc

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
)

// ResetAllZones is the sentinel start LBA selecting every zone for
// ResetWritePointer.
const ResetAllZones = codec.ResetAllZones

// ResetWritePointer resets the write pointer of the zone starting at
// startLBA, returning it to the empty condition. Passing ResetAllZones
// resets every zone on the device.
func (d *Device) ResetWritePointer(ctx context.Context, startLBA uint64) error {
	cmd, err := sg.NewCommand(codec.OpZoneOut, nil, 0)
	if err != nil {
		return err
	}
	defer cmd.Close()

	codec.FillResetWritePointer(cmd.CDB, startLBA)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return fmt.Errorf("reset write pointer %s: %w", d.path, err)
	}

	if startLBA == ResetAllZones {
		klog.V(2).Infof("%s: reset write pointer of all zones", d.path)
	} else {
		klog.V(2).Infof("%s: reset write pointer of zone at LBA %d", d.path, startLBA)
	}
	return nil
}

// SetZones redefines the conventional and sequential zone sizing of an
// emulated device. Real hardware rejects this command.
func (d *Device) SetZones(ctx context.Context, convSize, seqSize uint64) error {
	cmd, err := sg.NewCommand(codec.OpZoneOut, nil, 0)
	if err != nil {
		return err
	}
	defer cmd.Close()

	codec.FillSetZones(cmd.CDB, convSize, seqSize)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return fmt.Errorf("set zones %s: %w", d.path, err)
	}

	klog.V(2).Infof("%s: zones set (conventional=%d sequential=%d blocks)",
		d.path, convSize, seqSize)
	return nil
}

// SetWritePointer forces the write pointer of the zone starting at
// startLBA on an emulated device. Real hardware rejects this command.
func (d *Device) SetWritePointer(ctx context.Context, startLBA, writePointer uint64) error {
	cmd, err := sg.NewCommand(codec.OpZoneOut, nil, 0)
	if err != nil {
		return err
	}
	defer cmd.Close()

	codec.FillSetWritePointer(cmd.CDB, startLBA, writePointer)

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return fmt.Errorf("set write pointer %s: %w", d.path, err)
	}

	klog.V(2).Infof("%s: write pointer of zone at LBA %d set to %d",
		d.path, startLBA, writePointer)
	return nil
}
