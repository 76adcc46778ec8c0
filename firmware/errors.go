package firmware

import "errors"

// Sentinel errors for the firmware core.
var (
	ErrHalted            = errors.New("firmware halted")
	ErrRevisionMismatch  = errors.New("board revision mismatch")
	ErrMalformedHex      = errors.New("malformed hex record")
	ErrChecksum          = errors.New("hex record checksum mismatch")
	ErrUnsupportedRecord = errors.New("unsupported hex record type")
	ErrMissingEOF        = errors.New("hex data has no end-of-file record")
	ErrPatchSize         = errors.New("patch record has wrong size")
)
