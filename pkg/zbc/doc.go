// Package zbc drives SCSI zoned block devices (ZBC) through the SG_IO
// passthrough transport: device bring-up and classification, zone reports,
// zone-relative reads and writes, cache flush, and write-pointer
// management.
//
// # Logging Verbosity Convention
//
// This package follows Kubernetes logging conventions for verbosity levels:
//
//   - V(0): Always visible - bring-up failures, geometry errors
//   - V(2): Production default - operation outcomes
//     Examples: "Opened device /dev/sg1", "Reset write pointer of zone X"
//   - V(4): Debug level - intermediate steps, command parameters
//     Examples: "Report at most N zones", "Partial transfer"
//   - V(5): Trace level - decoded descriptors, raw reply fields
//
// V(3) is avoided in favor of V(2) (if actionable) or V(4) (if diagnostic).
//
// Production deployments use V(2) by default. Set --v=4 for troubleshooting.
package zbc
