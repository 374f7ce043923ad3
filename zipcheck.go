package main

import (
	"fmt"

	"github.com/avast/apkparser"
)

// checkZipReadable confirms a rewritten APK still opens as a zip archive. The
// rewrite only moves the central directory, so a destination that trips this
// check was corrupted on the way out.
func checkZipReadable(apkPath string) error {
	zip, err := apkparser.OpenZip(apkPath)
	if err != nil {
		return fmt.Errorf("failed to open the rewritten APK as a zip: %s", err)
	}
	return zip.Close()
}
