package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/channelpack/apkchannel/signingblock"
)

func TestReadChannelConfig(t *testing.T) {
	writeConfig := func(content string) string {
		path := filepath.Join(t.TempDir(), "channels.txt")
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
		return path
	}

	t.Log("plain channel list")
	{
		channels, err := readChannelConfig(writeConfig("official\nmarket\nhuawei\n"))
		require.NoError(t, err)
		require.Equal(t, []string{"official", "market", "huawei"}, channels)
	}

	t.Log("comments and blank lines are skipped, whitespace is trimmed")
	{
		channels, err := readChannelConfig(writeConfig("# release channels\n official \n\n\t# disabled\nmarket\n"))
		require.NoError(t, err)
		require.Equal(t, []string{"official", "market"}, channels)
	}

	t.Log("empty file")
	{
		channels, err := readChannelConfig(writeConfig(""))
		require.NoError(t, err)
		require.Empty(t, channels)
	}

	t.Log("missing file")
	{
		_, err := readChannelConfig(filepath.Join(t.TempDir(), "nope.txt"))
		require.Error(t, err)
	}
}

func TestValidateNameFormat(t *testing.T) {
	require.NoError(t, validateNameFormat(defaultNameFormat))
	require.NoError(t, validateNameFormat("%s.apk"))
	require.NoError(t, validateNameFormat("100%%-%s.apk"))

	require.Error(t, validateNameFormat("app.apk"))
	require.Error(t, validateNameFormat("app-%s-%s.apk"))
	require.Error(t, validateNameFormat("app-%d.apk"))
	require.Error(t, validateNameFormat("app-%s-%d.apk"))
}

func TestVerifyChannelFile(t *testing.T) {
	tmpDir := t.TempDir()

	tool, err := openChannelTool(writeSignedAPK(t, tmpDir))
	require.NoError(t, err)
	defer func() { require.NoError(t, tool.close()) }()

	target := filepath.Join(tmpDir, "app-official.apk")
	require.NoError(t, tool.writeChannelFile(target, signingblock.ChannelEntryID, "official"))

	t.Log("matching channel entry verifies")
	{
		require.NoError(t, verifyChannelFile(target, "official"))
	}

	t.Log("a different channel does not")
	{
		require.Error(t, verifyChannelFile(target, "market"))
	}

	t.Log("a file without the entry does not")
	{
		require.Error(t, verifyChannelFile(writeUnsignedAPK(t, tmpDir), "official"))
	}
}
