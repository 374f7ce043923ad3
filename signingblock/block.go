package signingblock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/channelpack/apkchannel/zipfmt"
)

// Magic is the 16-byte trailer closing every APK signing block.
var Magic = []byte("APK Sig Block 42")

const (
	magicLength     = 16
	sizeFieldLength = 8

	// footerLength covers the trailing size field plus the magic.
	footerLength = sizeFieldLength + magicLength

	minBlockLength = sizeFieldLength + footerLength
)

// ErrBlockMissing means no signing block precedes the central directory.
var ErrBlockMissing = errors.New("signingblock: apk signing block not found")

// Block is a complete APK signing block held in memory, header and footer
// size fields included.
type Block struct {
	raw []byte
}

// Extract reads the signing block ending immediately before the central
// directory. ErrBlockMissing is returned when the magic is absent or the
// central directory offset leaves no room for a block; ErrMalformedBlock when
// a block is present but its declared sizes are inconsistent.
func Extract(r io.ReaderAt, fileSize, centralDirOffset int64) (*Block, error) {
	if centralDirOffset < minBlockLength || centralDirOffset > fileSize-zipfmt.EOCDMinSize {
		return nil, fmt.Errorf("%w: central directory offset %d out of range", ErrBlockMissing, centralDirOffset)
	}

	magicBuf := make([]byte, magicLength)
	if _, err := r.ReadAt(magicBuf, centralDirOffset-magicLength); err != nil {
		return nil, fmt.Errorf("signingblock: read magic: %w", err)
	}
	if !bytes.Equal(magicBuf, Magic) {
		return nil, fmt.Errorf("%w: magic mismatch before central directory (%x)", ErrBlockMissing, magicBuf)
	}

	var sizeBuf [sizeFieldLength]byte
	if _, err := r.ReadAt(sizeBuf[:], centralDirOffset-footerLength); err != nil {
		return nil, fmt.Errorf("signingblock: read size field: %w", err)
	}
	declared := binary.LittleEndian.Uint64(sizeBuf[:])

	total := declared + sizeFieldLength
	if declared < footerLength || total > uint64(centralDirOffset) {
		return nil, fmt.Errorf("%w: declared size %d does not fit before the central directory", ErrMalformedBlock, declared)
	}

	raw := make([]byte, total)
	if _, err := r.ReadAt(raw, centralDirOffset-int64(total)); err != nil {
		return nil, fmt.Errorf("signingblock: read block: %w", err)
	}
	return New(raw)
}

// New validates raw as a complete signing block: the header and footer size
// fields must both hold len(raw)-8 and the final 16 bytes must be the magic.
func New(raw []byte) (*Block, error) {
	if len(raw) < minBlockLength {
		return nil, fmt.Errorf("%w: %d bytes is below the minimum block size", ErrMalformedBlock, len(raw))
	}

	want := uint64(len(raw) - sizeFieldLength)
	header := binary.LittleEndian.Uint64(raw)
	footer := binary.LittleEndian.Uint64(raw[len(raw)-footerLength:])
	if header != want || footer != want {
		return nil, fmt.Errorf("%w: size fields %d/%d, want %d", ErrMalformedBlock, header, footer, want)
	}
	if !bytes.Equal(raw[len(raw)-magicLength:], Magic) {
		return nil, fmt.Errorf("%w: bad magic trailer", ErrMalformedBlock)
	}
	return &Block{raw: raw}, nil
}

// NewBlock assembles a well-formed block holding the given entries.
func NewBlock(entries []Entry) *Block {
	return assemble(encodeEntries(entries), Magic)
}

// Bytes returns the raw block bytes.
func (b *Block) Bytes() []byte { return b.raw }

// Len returns the full block length in bytes.
func (b *Block) Len() int64 { return int64(len(b.raw)) }

// Entries decodes the id/value sequence stored in the block.
func (b *Block) Entries() ([]Entry, error) {
	return decodeEntries(b.raw[sizeFieldLength : len(b.raw)-footerLength])
}

// Has reports whether the block carries an entry with the given id.
func (b *Block) Has(id ID) (bool, error) {
	entries, err := b.Entries()
	if err != nil {
		return false, err
	}
	_, ok := Find(entries, id)
	return ok, nil
}

// WithEntry returns a new block with e appended after the existing entries,
// plus the number of bytes the block grew by. Entries are never replaced, so
// an id already present in the block simply ends up there twice. The magic
// trailer is carried over from the receiver.
func (b *Block) WithEntry(e Entry) (*Block, int64, error) {
	entries, err := b.Entries()
	if err != nil {
		return nil, 0, err
	}
	entries = append(entries, e)

	merged := assemble(encodeEntries(entries), b.raw[len(b.raw)-magicLength:])
	return merged, merged.Len() - b.Len(), nil
}

func assemble(kv, magic []byte) *Block {
	total := sizeFieldLength + len(kv) + footerLength

	var sizeField [sizeFieldLength]byte
	binary.LittleEndian.PutUint64(sizeField[:], uint64(total-sizeFieldLength))

	raw := make([]byte, 0, total)
	raw = append(raw, sizeField[:]...)
	raw = append(raw, kv...)
	raw = append(raw, sizeField[:]...)
	raw = append(raw, magic...)
	return &Block{raw: raw}
}
