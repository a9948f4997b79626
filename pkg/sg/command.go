package sg

import (
	"fmt"

	"git.srvlab.io/whiskey/zbc/pkg/codec"
)

// Direction is the data transfer direction of one command.
type Direction int

const (
	// DirectionNone carries no data phase
	DirectionNone Direction = iota

	// DirectionFromDevice transfers data device-to-host (reads, replies)
	DirectionFromDevice

	// DirectionToDevice transfers data host-to-device (writes)
	DirectionToDevice
)

// senseBufLen is the sense buffer size attached to every command.
const senseBufLen = 64

// Command is one protocol exchange: a 16-byte CDB, an optional data
// buffer, and the completion state filled in by the executor.
//
// A Command exists for the duration of one exchange. Close must be called
// on every exit path; it releases the buffer when the command allocated
// it. Buffers supplied by the caller are borrowed and never released here.
type Command struct {
	// CDB is the command descriptor block. Filled via pkg/codec.
	CDB []byte

	// Direction of the data phase. NewCommand defaults to
	// DirectionFromDevice when a buffer is present, DirectionNone
	// otherwise; writers flip it to DirectionToDevice before dispatch.
	Direction Direction

	// Buf is the data buffer for the transfer, if any.
	Buf []byte

	// Residual is the number of requested bytes the transfer did not
	// move, valid after a successful Execute.
	Residual int

	sense []byte
	owned bool
}

// NewCommand allocates a command for the given opcode. When buf is non-nil
// it is attached as a borrowed buffer and size is ignored; otherwise a
// buffer of size bytes is allocated and owned by the command (size zero
// means no data phase).
func NewCommand(opcode byte, buf []byte, size int) (*Command, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative buffer size %d", ErrSetup, size)
	}

	cmd := &Command{
		CDB:   make([]byte, codec.CDBLength),
		sense: make([]byte, senseBufLen),
	}
	cmd.CDB[0] = opcode

	switch {
	case buf != nil:
		cmd.Buf = buf
		cmd.Direction = DirectionFromDevice
	case size > 0:
		cmd.Buf = make([]byte, size)
		cmd.owned = true
		cmd.Direction = DirectionFromDevice
	default:
		cmd.Direction = DirectionNone
	}

	return cmd, nil
}

// TakeBuffer transfers ownership of an owned buffer to the caller, so a
// later Close does not release it. Returns nil when the command does not
// own its buffer.
func (c *Command) TakeBuffer() []byte {
	if !c.owned {
		return nil
	}
	buf := c.Buf
	c.Buf = nil
	c.owned = false
	return buf
}

// Close releases any buffer the command owns. Safe to call more than once
// and on commands whose buffer was taken or borrowed.
func (c *Command) Close() {
	if c.owned {
		c.Buf = nil
		c.owned = false
	}
	c.sense = nil
}
