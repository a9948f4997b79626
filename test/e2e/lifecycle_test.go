package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"git.srvlab.io/whiskey/zbc/pkg/zbc"
)

// reportAll fetches every zone of the emulated device.
func reportAll() []zbc.Zone {
	zones := make([]zbc.Zone, 16)
	n, err := dev.ReportZones(ctx, 0, zbc.ReportAll, zones)
	Expect(err).NotTo(HaveOccurred())
	return zones[:n]
}

// seqZone returns the i-th sequential zone.
func seqZone(i int) *zbc.Zone {
	zones := reportAll()
	var seq []zbc.Zone
	for _, z := range zones {
		if z.IsSequential() {
			seq = append(seq, z)
		}
	}
	Expect(len(seq)).To(BeNumerically(">", i))
	return &seq[i]
}

var _ = Describe("Device bring-up", func() {
	It("establishes the geometry", func() {
		geo := dev.Geometry()
		Expect(geo.LogicalBlockSize).To(Equal(uint32(blockSize)))
		Expect(geo.LogicalBlocks).To(Equal(uint64(convBlocks + seqZones*seqBlocks)))
	})
})

var _ = Describe("Zone reporting", func() {
	BeforeEach(func() {
		Expect(dev.ResetWritePointer(ctx, zbc.ResetAllZones)).To(Succeed())
	})

	It("lists the conventional zone first", func() {
		zones := reportAll()
		Expect(len(zones)).To(Equal(1 + seqZones))
		Expect(zones[0].IsConventional()).To(BeTrue())
		Expect(zones[0].StartLBA).To(Equal(uint64(0)))
		Expect(zones[0].Length).To(Equal(uint64(convBlocks)))
	})

	It("never returns more zones than requested", func() {
		zones := make([]zbc.Zone, 2)
		n, err := dev.ReportZones(ctx, 0, zbc.ReportAll, zones)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("filters by reporting options", func() {
		zone := seqZone(0)
		buf := pattern(1, blockSize, 0x11)
		_, err := dev.Write(ctx, zone, buf, 1, 0)
		Expect(err).NotTo(HaveOccurred())

		zones := make([]zbc.Zone, 16)
		n, err := dev.ReportZones(ctx, 0, zbc.ReportEmpty, zones)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(seqZones-1), "the written zone left the empty condition")
	})

	It("starts the report at the requested LBA", func() {
		zone := seqZone(1)
		zones := make([]zbc.Zone, 16)
		n, err := dev.ReportZones(ctx, zone.StartLBA, zbc.ReportAll, zones)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(seqZones - 1))
		Expect(zones[0].StartLBA).To(Equal(zone.StartLBA))
	})
})

var _ = Describe("Sequential writes", func() {
	BeforeEach(func() {
		Expect(dev.ResetWritePointer(ctx, zbc.ResetAllZones)).To(Succeed())
	})

	It("advances the write pointer and reads back the same data", func() {
		zone := seqZone(0)
		data := pattern(4, blockSize, 0x42)

		written, err := dev.Write(ctx, zone, data, 4, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(Equal(int64(4)))

		after := seqZone(0)
		Expect(after.WritePointer).To(Equal(zone.StartLBA + 4))
		Expect(after.Condition).To(Equal(zbc.ZoneConditionImplicitOpen))

		got := make([]byte, len(data))
		read, err := dev.Read(ctx, after, got, 4, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(read).To(Equal(int64(4)))
		Expect(got).To(Equal(data))
	})

	It("rejects writes that skip the write pointer", func() {
		zone := seqZone(0)
		_, err := dev.Write(ctx, zone, pattern(1, blockSize, 0x01), 1, 8)
		Expect(err).To(HaveOccurred())
	})

	It("fills a zone", func() {
		zone := seqZone(1)
		data := pattern(int(zone.Length), blockSize, 0x07)
		_, err := dev.Write(ctx, zone, data, uint32(zone.Length), 0)
		Expect(err).NotTo(HaveOccurred())

		zones := make([]zbc.Zone, 16)
		n, err := dev.ReportZones(ctx, 0, zbc.ReportFull, zones)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(zones[0].StartLBA).To(Equal(zone.StartLBA))
	})

	It("writes conventional zones at any offset", func() {
		zones := reportAll()
		conv := &zones[0]
		_, err := dev.Write(ctx, conv, pattern(2, blockSize, 0x33), 2, 100)
		Expect(err).NotTo(HaveOccurred())

		got := make([]byte, 2*blockSize)
		_, err = dev.Read(ctx, conv, got, 2, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(pattern(2, blockSize, 0x33)))
	})
})

var _ = Describe("Write pointer management", func() {
	BeforeEach(func() {
		Expect(dev.ResetWritePointer(ctx, zbc.ResetAllZones)).To(Succeed())
	})

	It("resets a single zone", func() {
		zone := seqZone(0)
		_, err := dev.Write(ctx, zone, pattern(2, blockSize, 0x55), 2, 0)
		Expect(err).NotTo(HaveOccurred())

		Expect(dev.ResetWritePointer(ctx, zone.StartLBA)).To(Succeed())

		after := seqZone(0)
		Expect(after.WritePointer).To(Equal(after.StartLBA))
		Expect(after.Condition).To(Equal(zbc.ZoneConditionEmpty))
	})

	It("resets every zone with the sentinel", func() {
		for i := 0; i < 2; i++ {
			zone := seqZone(i)
			_, err := dev.Write(ctx, zone, pattern(1, blockSize, byte(i)), 1, 0)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(dev.ResetWritePointer(ctx, zbc.ResetAllZones)).To(Succeed())

		zones := make([]zbc.Zone, 16)
		n, err := dev.ReportZones(ctx, 0, zbc.ReportEmpty, zones)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(seqZones))
	})

	It("forces a write pointer on the emulated device", func() {
		zone := seqZone(2)
		Expect(dev.SetWritePointer(ctx, zone.StartLBA, zone.StartLBA+16)).To(Succeed())

		after := seqZone(2)
		Expect(after.WritePointer).To(Equal(zone.StartLBA + 16))
	})
})

var _ = Describe("Cache flush", func() {
	It("flushes the whole device", func() {
		Expect(dev.Flush(ctx, 0, 0, false)).To(Succeed())
	})

	It("flushes a range immediately", func() {
		Expect(dev.Flush(ctx, 0, 64, true)).To(Succeed())
	})
})

var _ = Describe("Zone configuration", func() {
	It("rebuilds the zone layout", func() {
		Expect(dev.SetZones(ctx, convBlocks, seqBlocks)).To(Succeed())

		zones := reportAll()
		Expect(len(zones)).To(Equal(1 + seqZones))
		for _, z := range zones[1:] {
			Expect(z.Length).To(Equal(uint64(seqBlocks)))
		}
	})
})
