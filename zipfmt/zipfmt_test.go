package zipfmt

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func eocdRecord(dirOffset, dirSize uint32, comment string) []byte {
	rec := make([]byte, EOCDMinSize+len(comment))
	binary.LittleEndian.PutUint32(rec, eocdSignature)
	binary.LittleEndian.PutUint32(rec[centralDirSizeFieldOffset:], dirSize)
	binary.LittleEndian.PutUint32(rec[CentralDirOffsetFieldOffset:], dirOffset)
	binary.LittleEndian.PutUint16(rec[commentLengthFieldOffset:], uint16(len(comment)))
	copy(rec[EOCDMinSize:], comment)
	return rec
}

func TestLocateEOCD(t *testing.T) {
	t.Log("record with an empty comment")
	{
		file := append(make([]byte, 100), eocdRecord(40, 60, "")...)
		offset, err := LocateEOCD(bytes.NewReader(file), int64(len(file)))
		require.NoError(t, err)
		require.Equal(t, int64(100), offset)
	}

	t.Log("record with a trailing comment")
	{
		file := append(make([]byte, 100), eocdRecord(40, 60, "built by apkchannel")...)
		offset, err := LocateEOCD(bytes.NewReader(file), int64(len(file)))
		require.NoError(t, err)
		require.Equal(t, int64(100), offset)
	}

	t.Log("signature bytes inside the comment do not fool the scan")
	{
		comment := "xx" + string([]byte{0x50, 0x4b, 0x05, 0x06}) + "xxxxxxxxxxxxxxxxxxxxxxxx"
		file := append(make([]byte, 100), eocdRecord(40, 60, comment)...)
		offset, err := LocateEOCD(bytes.NewReader(file), int64(len(file)))
		require.NoError(t, err)
		require.Equal(t, int64(100), offset)
	}

	t.Log("record at the very start of the file")
	{
		file := eocdRecord(0, 0, "")
		offset, err := LocateEOCD(bytes.NewReader(file), int64(len(file)))
		require.NoError(t, err)
		require.Equal(t, int64(0), offset)
	}

	t.Log("file shorter than the minimum record size")
	{
		_, err := LocateEOCD(bytes.NewReader(make([]byte, EOCDMinSize-1)), EOCDMinSize-1)
		require.ErrorIs(t, err, ErrEOCDNotFound)
	}

	t.Log("file without a record")
	{
		file := bytes.Repeat([]byte{0xab}, 200)
		_, err := LocateEOCD(bytes.NewReader(file), int64(len(file)))
		require.ErrorIs(t, err, ErrEOCDNotFound)
	}

	t.Log("signature match with a wrong stored comment length is rejected")
	{
		rec := eocdRecord(40, 60, "")
		binary.LittleEndian.PutUint16(rec[commentLengthFieldOffset:], 7)
		file := append(make([]byte, 100), rec...)
		_, err := LocateEOCD(bytes.NewReader(file), int64(len(file)))
		require.ErrorIs(t, err, ErrEOCDNotFound)
	}
}

func TestCentralDirectory(t *testing.T) {
	t.Log("directory ends exactly at the record")
	{
		file := append(make([]byte, 100), eocdRecord(40, 60, "")...)
		offset, size, err := CentralDirectory(bytes.NewReader(file), 100)
		require.NoError(t, err)
		require.Equal(t, int64(40), offset)
		require.Equal(t, int64(60), size)
	}

	t.Log("gap between directory and record is a structural error")
	{
		file := append(make([]byte, 100), eocdRecord(40, 50, "")...)
		_, _, err := CentralDirectory(bytes.NewReader(file), 100)
		require.ErrorIs(t, err, ErrStructuralMismatch)
	}
}

func TestIsZip64(t *testing.T) {
	t.Log("locator signature right before the record")
	{
		file := make([]byte, 100)
		binary.LittleEndian.PutUint32(file[80-zip64LocatorSize:], zip64LocatorSignature)
		zip64, err := IsZip64(bytes.NewReader(file), 80)
		require.NoError(t, err)
		require.True(t, zip64)
	}

	t.Log("no locator")
	{
		file := make([]byte, 100)
		zip64, err := IsZip64(bytes.NewReader(file), 80)
		require.NoError(t, err)
		require.False(t, zip64)
	}

	t.Log("record too close to the start of the file")
	{
		zip64, err := IsZip64(bytes.NewReader(make([]byte, 22)), 0)
		require.NoError(t, err)
		require.False(t, zip64)
	}
}
