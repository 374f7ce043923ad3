package zipfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// EOCDMinSize is the size of an end-of-central-directory record with an
	// empty comment.
	EOCDMinSize = 22

	// CentralDirOffsetFieldOffset is where the central directory offset field
	// sits inside the EOCD record.
	CentralDirOffsetFieldOffset = 16

	maxCommentSize = 0xffff

	eocdSignature         uint32 = 0x06054b50
	zip64LocatorSignature uint32 = 0x07064b50

	commentLengthFieldOffset  = 20
	centralDirSizeFieldOffset = 12
	zip64LocatorSize          = 20
)

var (
	// ErrEOCDNotFound means no valid end-of-central-directory record could be
	// located, i.e. the file is not a readable zip archive.
	ErrEOCDNotFound = errors.New("zip: end of central directory record not found")

	// ErrStructuralMismatch means the central directory bounds declared in the
	// EOCD record disagree with the record's own position.
	ErrStructuralMismatch = errors.New("zip: central directory is not immediately followed by end of central directory")
)

// LocateEOCD scans a zip file of the given size for its end-of-central-directory
// record and returns the record's offset. Candidate comment lengths are tried
// ascending from zero, so the record closest to the end of the file wins. A
// candidate is only accepted if its stored comment length matches the assumed
// one, which rules out signature bytes that happen to appear inside a comment.
func LocateEOCD(r io.ReaderAt, size int64) (int64, error) {
	if size < EOCDMinSize {
		return 0, ErrEOCDNotFound
	}

	maxComment := size - EOCDMinSize
	if maxComment > maxCommentSize {
		maxComment = maxCommentSize
	}

	for comment := int64(0); comment <= maxComment; comment++ {
		offset := size - EOCDMinSize - comment

		sig, err := readUint32(r, offset)
		if err != nil {
			return 0, err
		}
		if sig != eocdSignature {
			continue
		}

		var buf [2]byte
		if _, err := r.ReadAt(buf[:], offset+commentLengthFieldOffset); err != nil {
			return 0, fmt.Errorf("zip: read comment length at %d: %w", offset+commentLengthFieldOffset, err)
		}
		if int64(binary.LittleEndian.Uint16(buf[:])) == comment {
			return offset, nil
		}
	}
	return 0, ErrEOCDNotFound
}

// CentralDirectory reads the central directory offset and size out of the EOCD
// record. The central directory has to end exactly where the EOCD record
// starts, otherwise the archive layout is not one this tool can rewrite.
func CentralDirectory(r io.ReaderAt, eocdOffset int64) (offset, size int64, err error) {
	dirOffset, err := readUint32(r, eocdOffset+CentralDirOffsetFieldOffset)
	if err != nil {
		return 0, 0, err
	}
	dirSize, err := readUint32(r, eocdOffset+centralDirSizeFieldOffset)
	if err != nil {
		return 0, 0, err
	}

	if int64(dirOffset)+int64(dirSize) != eocdOffset {
		return 0, 0, fmt.Errorf("%w: directory [%d, %d) vs record at %d",
			ErrStructuralMismatch, dirOffset, int64(dirOffset)+int64(dirSize), eocdOffset)
	}
	return int64(dirOffset), int64(dirSize), nil
}

// IsZip64 reports whether a zip64 end-of-central-directory locator precedes
// the EOCD record.
func IsZip64(r io.ReaderAt, eocdOffset int64) (bool, error) {
	locatorPos := eocdOffset - zip64LocatorSize
	if locatorPos < 0 {
		return false, nil
	}

	sig, err := readUint32(r, locatorPos)
	if err != nil {
		return false, err
	}
	return sig == zip64LocatorSignature, nil
}

func readUint32(r io.ReaderAt, offset int64) (uint32, error) {
	var buf [4]byte
	if _, err := r.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("zip: read 4 bytes at %d: %w", offset, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
