package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/zbc/pkg/observability"
	"git.srvlab.io/whiskey/zbc/pkg/sg"
	"git.srvlab.io/whiskey/zbc/pkg/zbc"
)

var (
	// Device selection
	device   = flag.String("device", "", "SG device node (e.g. /dev/sg1, required)")
	waitFor  = flag.Duration("wait", 0, "Wait up to this long for the device node to appear")
	timeout  = flag.Duration("timeout", 0, "Overall operation timeout (0 = none)")
	cmdTimeo = flag.Uint("command-timeout-ms", sg.DefaultTimeout, "Per-command SG_IO timeout in milliseconds")

	// Observability
	metricsAddress = flag.String("metrics-address", "", "Serve Prometheus metrics on this address (e.g. :9095)")

	// Operations (exactly one required)
	info     = flag.Bool("info", false, "Print device geometry")
	report   = flag.Bool("report", false, "Report zones")
	reset    = flag.Bool("reset", false, "Reset a zone's write pointer")
	readOp   = flag.Bool("read", false, "Read blocks from a zone to stdout")
	writeOp  = flag.Bool("write", false, "Write blocks from stdin to a zone")
	flushOp  = flag.Bool("flush", false, "Synchronize the device cache")
	setZones = flag.Bool("set-zones", false, "Reconfigure zone sizing (emulated devices only)")
	setWP    = flag.Bool("set-wp", false, "Force a zone's write pointer (emulated devices only)")

	// Operation parameters
	start     = flag.Uint64("start", 0, "Start LBA for -report")
	count     = flag.Int("count", 128, "Maximum zones for -report")
	ro        = flag.Uint("ro", 0, "Reporting options selector for -report (0x0-0xf)")
	all       = flag.Bool("all", false, "Reset every zone with -reset")
	zoneLBA   = flag.Uint64("zone", 0, "Start LBA of the target zone for -read/-write/-reset/-set-wp")
	offset    = flag.Uint64("offset", 0, "Block offset into the zone for -read/-write")
	blocks    = flag.Uint("blocks", 1, "Number of logical blocks for -read/-write")
	flushLBA  = flag.Uint64("flush-lba", 0, "First LBA of the range for -flush (0 = whole device)")
	flushCnt  = flag.Uint("flush-count", 0, "Block count of the range for -flush (0 = whole device)")
	immediate = flag.Bool("immediate", false, "Return before the flush completes with -flush")
	convSize  = flag.Uint64("conv-size", 0, "Conventional zone size in blocks for -set-zones")
	seqSize   = flag.Uint64("seq-size", 0, "Sequential zone size in blocks for -set-zones")
	wp        = flag.Uint64("wp", 0, "New write pointer LBA for -set-wp")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *device == "" {
		klog.Fatal("--device is required")
	}

	ops := 0
	for _, b := range []*bool{info, report, reset, readOp, writeOp, flushOp, setZones, setWP} {
		if *b {
			ops++
		}
	}
	if ops != 1 {
		klog.Fatal("Exactly one of --info, --report, --reset, --read, --write, --flush, --set-zones, --set-wp must be given")
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	if *waitFor > 0 {
		if err := waitForDevice(ctx, *device, *waitFor); err != nil {
			klog.Fatalf("Device %s did not appear: %v", *device, err)
		}
	}

	metrics := observability.NewMetrics()
	if *metricsAddress != "" {
		go serveMetrics(*metricsAddress, metrics)
	}

	flags := unix.O_RDONLY
	if *writeOp || *reset || *flushOp || *setZones || *setWP {
		flags = unix.O_RDWR
	}

	executor := observability.Instrument(metrics, sg.NewExecutorWithTimeout(uint32(*cmdTimeo)))
	dev, err := zbc.Open(ctx, *device, flags, zbc.WithExecutor(executor))
	if err != nil {
		klog.Fatalf("Open %s: %v", *device, err)
	}
	metrics.RecordDeviceOpened()
	defer func() {
		if err := dev.Close(); err != nil {
			klog.Errorf("Close %s: %v", *device, err)
		}
		metrics.RecordDeviceClosed()
	}()

	if err := run(ctx, dev); err != nil {
		klog.Fatalf("Operation failed: %v", err)
	}
}

func run(ctx context.Context, dev *zbc.Device) error {
	switch {
	case *info:
		fmt.Printf("%s: %s\n", dev.Path(), dev.Geometry())
		return nil
	case *report:
		return runReport(ctx, dev)
	case *reset:
		lba := *zoneLBA
		if *all {
			lba = zbc.ResetAllZones
		}
		return dev.ResetWritePointer(ctx, lba)
	case *readOp:
		return runRead(ctx, dev)
	case *writeOp:
		return runWrite(ctx, dev)
	case *flushOp:
		return dev.Flush(ctx, *flushLBA, uint32(*flushCnt), *immediate)
	case *setZones:
		return dev.SetZones(ctx, *convSize, *seqSize)
	case *setWP:
		zone, err := findZone(ctx, dev, *zoneLBA)
		if err != nil {
			return err
		}
		return dev.SetWritePointer(ctx, zone.StartLBA, *wp)
	}
	return nil
}

func runReport(ctx context.Context, dev *zbc.Device) error {
	if *count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	zones := make([]zbc.Zone, *count)
	n, err := dev.ReportZones(ctx, *start, zbc.ReportingOptions(*ro), zones)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		z := &zones[i]
		fmt.Printf("zone %3d: start=%-12d len=%-10d wp=%-12d %s %s reset-needed=%v\n",
			i, z.StartLBA, z.Length, z.WritePointer, z.Type, z.Condition, z.ResetNeeded)
	}
	return nil
}

func runRead(ctx context.Context, dev *zbc.Device) error {
	zone, err := findZone(ctx, dev, *zoneLBA)
	if err != nil {
		return err
	}
	buf := make([]byte, uint64(*blocks)*uint64(dev.Geometry().LogicalBlockSize))
	n, err := dev.Read(ctx, zone, buf, uint32(*blocks), *offset)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf[:n*int64(dev.Geometry().LogicalBlockSize)])
	return err
}

func runWrite(ctx context.Context, dev *zbc.Device) error {
	zone, err := findZone(ctx, dev, *zoneLBA)
	if err != nil {
		return err
	}
	buf := make([]byte, uint64(*blocks)*uint64(dev.Geometry().LogicalBlockSize))
	if _, err := io.ReadFull(os.Stdin, buf); err != nil {
		return fmt.Errorf("reading %d bytes from stdin: %w", len(buf), err)
	}
	n, err := dev.Write(ctx, zone, buf, uint32(*blocks), *offset)
	if err != nil {
		return err
	}
	klog.V(2).Infof("Wrote %d of %d blocks", n, *blocks)
	return nil
}

// findZone reports the single zone starting at (or containing) lba.
func findZone(ctx context.Context, dev *zbc.Device, lba uint64) (*zbc.Zone, error) {
	zones := make([]zbc.Zone, 1)
	n, err := dev.ReportZones(ctx, lba, zbc.ReportAll, zones)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("no zone at LBA %d", lba)
	}
	return &zones[0], nil
}

// waitForDevice polls for the device node with exponential backoff, for
// hotplug and virtual devices that appear after the tool starts.
func waitForDevice(ctx context.Context, path string, maxWait time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = maxWait

	return backoff.Retry(func() error {
		if _, err := os.Stat(path); err != nil {
			klog.V(4).Infof("Waiting for %s: %v", path, err)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func serveMetrics(address string, m *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	klog.V(2).Infof("Serving metrics on %s", address)
	if err := http.ListenAndServe(address, mux); err != nil {
		klog.Errorf("Metrics server failed: %v", err)
	}
}
