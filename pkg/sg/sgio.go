package sg

import (
	"context"
	"encoding/hex"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
)

const (
	// sgIO is the SG_IO ioctl request number
	sgIO = 0x2285

	// sg_io_hdr info field: bit 0 set means something abnormal happened
	sgInfoOKMask = 0x1
	sgInfoOK     = 0x0

	// sg dxfer_direction values
	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3

	// DefaultTimeout is the per-command SG_IO timeout in milliseconds.
	DefaultTimeout = 20000
)

// sgIOHdr mirrors the kernel's struct sg_io_hdr.
type sgIOHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         unsafe.Pointer
	cmdp           unsafe.Pointer
	sbp            unsafe.Pointer
	timeout        uint32
	flags          uint32
	packID         int32
	_              [4]byte
	usrPtr         unsafe.Pointer
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// Executor performs one passthrough exchange. The production implementation
// issues the SG_IO ioctl; tests substitute a fake.
type Executor interface {
	// Execute dispatches cmd on the device file descriptor and waits for
	// completion. On success cmd.Buf (for device-to-host transfers) and
	// cmd.Residual are valid.
	Execute(ctx context.Context, fd int, cmd *Command) error
}

// ioctlExecutor is the SG_IO Executor.
type ioctlExecutor struct {
	timeout uint32 // milliseconds
}

// NewExecutor returns the SG_IO executor with the default command timeout.
func NewExecutor() Executor {
	return &ioctlExecutor{timeout: DefaultTimeout}
}

// NewExecutorWithTimeout returns an SG_IO executor with a caller-chosen
// per-command timeout.
func NewExecutorWithTimeout(timeoutMs uint32) Executor {
	return &ioctlExecutor{timeout: timeoutMs}
}

func (e *ioctlExecutor) Execute(ctx context.Context, fd int, cmd *Command) error {
	// The ioctl itself is not cancellable; honor an already-expired
	// context before touching the device.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrExecute, err)
	}

	hdr := sgIOHdr{
		interfaceID:    'S',
		dxferDirection: sgDirection(cmd.Direction),
		cmdLen:         uint8(len(cmd.CDB)),
		mxSBLen:        uint8(len(cmd.sense)),
		timeout:        e.timeout,
	}
	hdr.cmdp = unsafe.Pointer(&cmd.CDB[0])
	if len(cmd.sense) > 0 {
		hdr.sbp = unsafe.Pointer(&cmd.sense[0])
	}
	if len(cmd.Buf) > 0 {
		hdr.dxferLen = uint32(len(cmd.Buf))
		hdr.dxferp = unsafe.Pointer(&cmd.Buf[0])
	}

	if klog.V(5).Enabled() {
		klog.Infof("SG_IO %s cdb=%s len=%d", codec.CommandName(cmd.CDB),
			hex.EncodeToString(cmd.CDB), len(cmd.Buf))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), sgIO,
		uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return fmt.Errorf("%w: SG_IO ioctl: %v", ErrExecute, errno)
	}

	if hdr.info&sgInfoOKMask != sgInfoOK {
		err := decodeSense(cmd.sense[:hdr.sbLenWr])
		klog.V(4).Infof("%s failed: status=0x%02x host=0x%02x driver=0x%02x: %v",
			codec.CommandName(cmd.CDB), hdr.status, hdr.hostStatus,
			hdr.driverStatus, err)
		return err
	}

	cmd.Residual = int(hdr.resid)
	if cmd.Residual != 0 {
		klog.V(4).Infof("%s completed with residual %d of %d bytes",
			codec.CommandName(cmd.CDB), cmd.Residual, len(cmd.Buf))
	}

	return nil
}

func sgDirection(d Direction) int32 {
	switch d {
	case DirectionToDevice:
		return sgDxferToDev
	case DirectionFromDevice:
		return sgDxferFromDev
	}
	return sgDxferNone
}

// OpenDevice opens an SG node in direct (unbuffered) mode and verifies it
// is a character-special device. The returned descriptor is owned by the
// caller.
func OpenDevice(path string, flags int) (int, error) {
	fd, err := unix.Open(path, flags|unix.O_DIRECT, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("stat %s: %w", path, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		unix.Close(fd)
		return -1, fmt.Errorf("%s: %w", path, ErrNotSG)
	}

	klog.V(2).Infof("Opened SG device %s (fd=%d)", path, fd)
	return fd, nil
}
