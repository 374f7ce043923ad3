package signingblock

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ID identifies a signing block entry. The canonical in-memory form is the
// unsigned 32-bit value; only the codec in this package touches the
// little-endian form the block stores on disk.
type ID uint32

const (
	// SchemeV2BlockID tags the APK Signature Scheme v2 signature entry.
	SchemeV2BlockID ID = 0x7109871a
	// ChannelEntryID tags an injected channel metadata entry.
	ChannelEntryID ID = 0x71098719
)

const (
	idLength          = 4
	entryHeaderLength = 8

	// maxEntryCount bounds how many entries a key/value region may declare; a
	// block claiming more is treated as corrupt.
	maxEntryCount = 4096
)

var (
	// ErrInvalidIDLength means an entry id given in raw byte form is not
	// exactly 4 bytes long.
	ErrInvalidIDLength = errors.New("signingblock: entry id must be exactly 4 bytes")

	// ErrMalformedBlock means a signing block's declared sizes and its actual
	// layout disagree.
	ErrMalformedBlock = errors.New("signingblock: malformed signing block")
)

// ParseID converts the canonical 4-byte form of an entry id into its in-memory
// representation.
func ParseID(b []byte) (ID, error) {
	if len(b) != idLength {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidIDLength, len(b))
	}
	return ID(binary.BigEndian.Uint32(b)), nil
}

// Entry is one id-tagged record of a signing block.
type Entry struct {
	ID    ID
	Value []byte
}

func (e Entry) encodedLen() int {
	return entryHeaderLength + idLength + len(e.Value)
}

// NewChannelEntry builds an entry carrying a channel name as its UTF-8 bytes.
func NewChannelEntry(id ID, channel string) Entry {
	return Entry{ID: id, Value: []byte(channel)}
}

// Find returns the first entry with the given id.
func Find(entries []Entry, id ID) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// decodeEntries parses a key/value region into its entry sequence. The
// length-prefixed entries must tile the region exactly; a cursor that
// overruns the region end means the block is corrupt.
func decodeEntries(kv []byte) ([]Entry, error) {
	var entries []Entry
	pos := 0
	for pos < len(kv) {
		if len(entries) == maxEntryCount {
			return nil, fmt.Errorf("%w: more than %d entries", ErrMalformedBlock, maxEntryCount)
		}
		if pos+entryHeaderLength+idLength > len(kv) {
			return nil, fmt.Errorf("%w: truncated entry at offset %d", ErrMalformedBlock, pos)
		}

		length := binary.LittleEndian.Uint64(kv[pos:])
		if length < idLength || length > uint64(len(kv)-pos-entryHeaderLength) {
			return nil, fmt.Errorf("%w: entry at offset %d declares %d bytes", ErrMalformedBlock, pos, length)
		}

		id := ID(binary.LittleEndian.Uint32(kv[pos+entryHeaderLength:]))
		value := make([]byte, length-idLength)
		copy(value, kv[pos+entryHeaderLength+idLength:pos+entryHeaderLength+int(length)])

		entries = append(entries, Entry{ID: id, Value: value})
		pos += entryHeaderLength + int(length)
	}
	return entries, nil
}

// encodeEntries serializes entries back into key/value region form,
// preserving order and keeping duplicate ids as they are.
func encodeEntries(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += e.encodedLen()
	}

	out := make([]byte, 0, size)
	var scratch [entryHeaderLength]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint64(scratch[:], uint64(idLength+len(e.Value)))
		out = append(out, scratch[:]...)
		binary.LittleEndian.PutUint32(scratch[:idLength], uint32(e.ID))
		out = append(out, scratch[:idLength]...)
		out = append(out, e.Value...)
	}
	return out
}
