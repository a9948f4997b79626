// Package sg provides the SCSI generic (SG_IO) passthrough transport.
//
// # Logging Verbosity Convention
//
// This package follows Kubernetes logging conventions for verbosity levels:
//
//   - V(0): Always visible - ioctl failures, malformed sense data
//   - V(2): Production default - device open/close outcomes
//   - V(4): Debug level - command dispatch, residual counts
//   - V(5): Trace level - raw CDB and sense buffer hex dumps
//
// V(3) is avoided in favor of V(2) (if actionable) or V(4) (if diagnostic).
//
// Production deployments use V(2) by default. Set --v=4 for troubleshooting.
package sg
