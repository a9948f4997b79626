package sg

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport conditions.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrSetup indicates a command context could not be created
	ErrSetup = errors.New("command setup failed")

	// ErrExecute indicates the passthrough ioctl itself failed
	ErrExecute = errors.New("command execution failed")

	// ErrProtocol indicates the device returned a failure status for a
	// well-formed command
	ErrProtocol = errors.New("command rejected by device")

	// ErrNotSG indicates the opened node is not a SCSI generic device
	ErrNotSG = errors.New("not a SCSI generic device")
)

// SenseError carries the fixed-format sense data of a rejected command.
// It wraps ErrProtocol so callers can classify with errors.Is.
type SenseError struct {
	// Key is the 4-bit sense key
	Key byte

	// ASC and ASCQ are the additional sense code and qualifier
	ASC  byte
	ASCQ byte
}

func (e *SenseError) Error() string {
	return fmt.Sprintf("%v: sense key 0x%x asc 0x%02x ascq 0x%02x",
		ErrProtocol, e.Key, e.ASC, e.ASCQ)
}

func (e *SenseError) Unwrap() error {
	return ErrProtocol
}

// decodeSense extracts key/asc/ascq from a fixed or descriptor format
// sense buffer. Returns a bare ErrProtocol when the buffer is too short
// to carry either format.
func decodeSense(sense []byte) error {
	if len(sense) < 3 {
		return ErrProtocol
	}
	switch sense[0] & 0x7f {
	case 0x70, 0x71: // fixed format
		se := &SenseError{Key: sense[2] & 0x0f}
		if len(sense) >= 14 {
			se.ASC = sense[12]
			se.ASCQ = sense[13]
		}
		return se
	case 0x72, 0x73: // descriptor format
		if len(sense) >= 4 {
			return &SenseError{Key: sense[1] & 0x0f, ASC: sense[2], ASCQ: sense[3]}
		}
	}
	return ErrProtocol
}
