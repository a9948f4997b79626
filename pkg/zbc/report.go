package zbc

import (
	"context"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
)

// reportBufferCeiling is the hard ceiling on one report's output buffer.
var reportBufferCeiling = os.Getpagesize()

// ReportZones issues a REPORT ZONES command starting at startLBA under
// the given reporting-options selector and decodes descriptors into
// zones. At most cap-of-zones descriptors are requested; the output
// buffer is additionally clamped to one memory page, which can reduce
// the effective request.
//
// Returns the number of descriptors actually written into zones. That
// count is authoritative and never exceeds len(zones), independent of how
// many zones the device claims exist.
func (d *Device) ReportZones(ctx context.Context, startLBA uint64, opts ReportingOptions, zones []Zone) (int, error) {
	if !opts.Valid() {
		return 0, fmt.Errorf("reporting options 0x%02x: %w", byte(opts), ErrInvalidArgument)
	}

	bufSize := codec.ReportHeaderLength
	requested := len(zones)
	if requested > 0 {
		klog.V(4).Infof("%s: report at most %d zones", d.path, requested)
		bufSize += requested * codec.ZoneDescriptorLength
		if bufSize > reportBufferCeiling {
			bufSize = reportBufferCeiling
			requested = (bufSize - codec.ReportHeaderLength) / codec.ZoneDescriptorLength
			klog.V(2).Infof("%s: zone report limited to %d of %d requested zones",
				d.path, requested, len(zones))
		}
	}

	cmd, err := sg.NewCommand(codec.OpServiceActionIn16, nil, bufSize)
	if err != nil {
		return 0, err
	}
	defer cmd.Close()

	codec.FillReportZones(cmd.CDB, startLBA, uint32(bufSize), byte(opts))

	if err := d.exec.Execute(ctx, d.fd, cmd); err != nil {
		return 0, fmt.Errorf("report zones %s: %w", d.path, err)
	}

	// The device reports how many zones match; the buffer bounds how
	// many descriptors it could have returned.
	reported := codec.ReportedZoneCount(cmd.Buf)
	fit := (bufSize - codec.ReportHeaderLength) / codec.ZoneDescriptorLength

	nz := reported
	if nz > requested {
		nz = requested
	}
	if nz > fit {
		nz = fit
	}

	for i := 0; i < nz; i++ {
		off := codec.ReportHeaderLength + i*codec.ZoneDescriptorLength
		desc := codec.DecodeZoneDescriptor(cmd.Buf[off:])
		zones[i] = Zone{
			Type:         ZoneType(desc.Type),
			Condition:    ZoneCondition(desc.Condition),
			Length:       desc.Length,
			StartLBA:     desc.StartLBA,
			WritePointer: desc.WritePointer,
			ResetNeeded:  desc.ResetNeeded,
		}
	}

	klog.V(4).Infof("%s: decoded %d zones (device reported %d)", d.path, nz, reported)
	return nz, nil
}
