package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/spf13/cobra"

	"github.com/channelpack/apkchannel/signingblock"
)

const defaultNameFormat = "app-%s.apk"

// -----------------------
// --- Models
// -----------------------

type configs struct {
	SourceAPK string
	Channels  string
	TargetDir string
	Format    string
}

var cfg configs

var rootCmd = &cobra.Command{
	Use:   "apkchannel --source-apk=<apk> --channels=<file> [--target-dir=<dir>] [--format=<pattern>]",
	Short: "Write channel metadata into APKs signed with signature scheme v2",
	Long: `apkchannel injects a channel-identifying entry into the APK signing block of
an APK signed with signature scheme v2, producing one output APK per channel
listed in the channels file. The signing block grows in place, so the APK's
entries, its central directory and its v2 signature stay untouched.`,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(run())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfg.SourceAPK, "source-apk", "", "path of the source APK (required)")
	rootCmd.Flags().StringVar(&cfg.Channels, "channels", "", "path of the channels list file, one channel per line (required)")
	rootCmd.Flags().StringVar(&cfg.TargetDir, "target-dir", ".", "directory the channel APKs are written to")
	rootCmd.Flags().StringVar(&cfg.Format, "format", defaultNameFormat, "target file name pattern with a single %s for the channel")

	if err := rootCmd.MarkFlagRequired("source-apk"); err != nil {
		panic(err)
	}
	if err := rootCmd.MarkFlagRequired("channels"); err != nil {
		panic(err)
	}
}

// -----------------------
// --- Functions
// -----------------------

func failf(format string, v ...interface{}) {
	log.Errorf(format, v...)
	os.Exit(1)
}

// readChannelConfig reads the channels list file: one channel name per line,
// blank lines and lines whose trimmed form starts with # are skipped.
func readChannelConfig(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var channels []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		channels = append(channels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return channels, nil
}

// validateNameFormat accepts file name patterns with exactly one %s
// substitution, like the default app-%s.apk.
func validateNameFormat(format string) error {
	stripped := strings.ReplaceAll(format, "%%", "")
	if strings.Count(stripped, "%s") != 1 {
		return fmt.Errorf("format must contain exactly one %%s, got: %s", format)
	}
	if strings.Contains(strings.ReplaceAll(stripped, "%s", ""), "%") {
		return fmt.Errorf("format must not contain substitutions other than %%s, got: %s", format)
	}
	return nil
}

func validate(cfg configs) error {
	if exist, err := pathutil.IsPathExists(cfg.SourceAPK); err != nil {
		return fmt.Errorf("failed to check if source APK exists at: %s, error: %s", cfg.SourceAPK, err)
	} else if !exist {
		return fmt.Errorf("source APK not exist at: %s", cfg.SourceAPK)
	}

	if exist, err := pathutil.IsDirExists(cfg.TargetDir); err != nil {
		return fmt.Errorf("failed to check if target directory exists at: %s, error: %s", cfg.TargetDir, err)
	} else if !exist {
		return fmt.Errorf("target directory not exist at: %s", cfg.TargetDir)
	}

	return validateNameFormat(cfg.Format)
}

// verifyChannelFile reopens a freshly written channel APK, reads the injected
// entry back and confirms the archive still opens as a zip. A destination
// only counts as generated once this passes.
func verifyChannelFile(path, channel string) error {
	tool, err := openChannelTool(path)
	if err != nil {
		return err
	}
	defer func() {
		if err := tool.close(); err != nil {
			log.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	injected := false
	for _, value := range tool.entryValues(signingblock.ChannelEntryID) {
		if string(value) == channel {
			injected = true
			break
		}
	}
	if !injected {
		return fmt.Errorf("channel entry %q missing from %s", channel, path)
	}

	return checkZipReadable(path)
}

// -----------------------
// --- Main
// -----------------------

func run() int {
	if err := validate(cfg); err != nil {
		failf("Process config: %s", err)
	}

	channels, err := readChannelConfig(cfg.Channels)
	if err != nil {
		failf("Process config: failed to read channels file: %s", err)
	}
	if len(channels) == 0 {
		failf("Process config: no channels listed in: %s", cfg.Channels)
	}

	tool, err := openChannelTool(cfg.SourceAPK)
	if err != nil {
		failf("Run: failed to open source APK: %s", err)
	}
	defer func() {
		if err := tool.close(); err != nil {
			log.Warnf("Failed to close source APK: %s", err)
		}
	}()

	if !tool.hasSchemeV2() {
		if tool.unsigned != nil {
			log.Printf("%s", tool.unsigned)
		}
		log.Errorf("%s is not signed with signature scheme v2", cfg.SourceAPK)
		return 2
	}

	log.Infof("Generating %d channel APKs from %s", len(channels), cfg.SourceAPK)

	generated := 0
	for i, channel := range channels {
		fmt.Println()
		log.Donef("%d/%d channel %s", i+1, len(channels), channel)

		target := filepath.Join(cfg.TargetDir, fmt.Sprintf(cfg.Format, channel))
		if err := tool.writeChannelFile(target, signingblock.ChannelEntryID, channel); err != nil {
			log.Errorf("generate %s apk fail: %s", channel, err)
			continue
		}
		if err := verifyChannelFile(target, channel); err != nil {
			log.Errorf("generate %s apk fail: %s", channel, err)
			continue
		}

		log.Printf("generate %s apk success: %s", channel, target)
		generated++
	}

	fmt.Println()
	log.Infof("Generated %d/%d channel APKs", generated, len(channels))
	return 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}
