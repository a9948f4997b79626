package zbc

import "errors"

// Sentinel errors for bring-up and argument validation.
// Use errors.Is() to check for these rather than string matching.
// Transport-level failures surface as the pkg/sg sentinels.
var (
	// ErrUnsupportedDevice indicates a device family or model this
	// library does not drive (ATA/SAT devices, host-aware models)
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrUnknownDeviceType indicates an unrecognized peripheral device
	// type code in the INQUIRY reply
	ErrUnknownDeviceType = errors.New("unknown device type")

	// ErrInvalidGeometry indicates a reported block size or capacity
	// that cannot describe a real device
	ErrInvalidGeometry = errors.New("invalid device geometry")

	// ErrInvalidArgument indicates caller-supplied parameters violate a
	// documented constraint
	ErrInvalidArgument = errors.New("invalid argument")
)
