package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/channelpack/apkchannel/signingblock"
	"github.com/channelpack/apkchannel/zipfmt"
)

var (
	errNotSchemeV2      = errors.New("apk is not signed with signature scheme v2")
	errUnsupportedZip64 = errors.New("zip64 archives are not supported")
)

// channelTool owns one read-only handle on a source APK together with the
// offsets and signing block located in it. A source that fails any of the
// structural checks still opens; the tool just stays in an unsigned state
// where queries report the block as absent and writes are refused.
type channelTool struct {
	apk  *os.File
	size int64

	eocdOffset       int64
	centralDirOffset int64
	centralDirSize   int64

	block    *signingblock.Block
	unsigned error
}

func openChannelTool(path string) (*channelTool, error) {
	apk, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := apk.Stat()
	if err != nil {
		if cerr := apk.Close(); cerr != nil {
			err = fmt.Errorf("%s; close: %s", err, cerr)
		}
		return nil, err
	}

	tool := &channelTool{apk: apk, size: info.Size()}
	if err := tool.locate(); err != nil {
		if !isStructural(err) {
			if cerr := apk.Close(); cerr != nil {
				err = fmt.Errorf("%s; close: %s", err, cerr)
			}
			return nil, err
		}
		tool.unsigned = err
	}
	return tool, nil
}

// locate walks the archive structure down to the signing block: EOCD record,
// zip64 rejection, central directory bounds, then the block itself.
func (tool *channelTool) locate() error {
	eocdOffset, err := zipfmt.LocateEOCD(tool.apk, tool.size)
	if err != nil {
		return err
	}
	tool.eocdOffset = eocdOffset

	zip64, err := zipfmt.IsZip64(tool.apk, eocdOffset)
	if err != nil {
		return err
	}
	if zip64 {
		return errUnsupportedZip64
	}

	dirOffset, dirSize, err := zipfmt.CentralDirectory(tool.apk, eocdOffset)
	if err != nil {
		return err
	}
	tool.centralDirOffset = dirOffset
	tool.centralDirSize = dirSize

	block, err := signingblock.Extract(tool.apk, tool.size, dirOffset)
	if err != nil {
		return err
	}
	tool.block = block
	return nil
}

// isStructural separates "this is not a usable v2-signed zip" outcomes from
// real I/O failures. The former degrade the tool to its unsigned state, the
// latter abort the open.
func isStructural(err error) bool {
	return errors.Is(err, zipfmt.ErrEOCDNotFound) ||
		errors.Is(err, zipfmt.ErrStructuralMismatch) ||
		errors.Is(err, signingblock.ErrBlockMissing) ||
		errors.Is(err, signingblock.ErrMalformedBlock) ||
		errors.Is(err, errUnsupportedZip64)
}

func (tool *channelTool) close() error {
	return tool.apk.Close()
}

func (tool *channelTool) hasSchemeV2() bool {
	return tool.hasEntry(signingblock.SchemeV2BlockID)
}

func (tool *channelTool) hasEntry(id signingblock.ID) bool {
	if tool.block == nil {
		return false
	}
	found, err := tool.block.Has(id)
	return err == nil && found
}

// entryValues returns the payloads of every entry carrying the given id, in
// block order. Duplicate ids may coexist after repeated injection.
func (tool *channelTool) entryValues(id signingblock.ID) [][]byte {
	if tool.block == nil {
		return nil
	}
	entries, err := tool.block.Entries()
	if err != nil {
		return nil
	}

	var values [][]byte
	for _, e := range entries {
		if e.ID == id {
			values = append(values, e.Value)
		}
	}
	return values
}

// writeChannelFile writes a copy of the source APK to dst with a channel
// entry appended to the signing block. Everything from the central directory
// on shifts forward by the block's growth, so the EOCD's central directory
// offset field is patched by the same delta; no other field changes. A
// destination that fails mid-write is removed.
func (tool *channelTool) writeChannelFile(dst string, id signingblock.ID, channel string) (err error) {
	if tool.block == nil {
		return errNotSchemeV2
	}

	merged, delta, err := tool.block.WithEntry(signingblock.NewChannelEntry(id, channel))
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			if rerr := os.Remove(dst); rerr != nil {
				err = fmt.Errorf("%s; remove partial file: %s", err, rerr)
			}
		}
	}()

	blockStart := tool.centralDirOffset - tool.block.Len()
	if _, err = io.Copy(out, io.NewSectionReader(tool.apk, 0, blockStart)); err != nil {
		return fmt.Errorf("copy leading archive data: %w", err)
	}
	if _, err = out.Write(merged.Bytes()); err != nil {
		return fmt.Errorf("write signing block: %w", err)
	}
	if _, err = io.Copy(out, io.NewSectionReader(tool.apk, tool.centralDirOffset, tool.size-tool.centralDirOffset)); err != nil {
		return fmt.Errorf("copy central directory: %w", err)
	}

	var patched [4]byte
	binary.LittleEndian.PutUint32(patched[:], uint32(tool.centralDirOffset+delta))
	if _, err = out.WriteAt(patched[:], tool.eocdOffset+delta+zipfmt.CentralDirOffsetFieldOffset); err != nil {
		return fmt.Errorf("patch central directory offset: %w", err)
	}
	return nil
}
