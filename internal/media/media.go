// Package media adapts local devices (camera, microphone, speaker) through
// ffmpeg, ffplay and configured shell hooks.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
)

// ErrPermissionDenied is returned when a device exists but may not be opened.
var ErrPermissionDenied = errors.New("media: permission denied")

// ErrBusy is returned when a recorder is asked to start twice.
var ErrBusy = errors.New("media: already recording")

var errNoCommand = errors.New("media: command not configured")

// devicePermission checks that a device node can be opened. Devices that are
// not file paths (pulse sources, avfoundation indices) are assumed usable.
func devicePermission(device string) error {
	if !strings.HasPrefix(device, "/") {
		return nil
	}
	f, err := os.Open(device)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%s: %w", device, ErrPermissionDenied)
		}
		return fmt.Errorf("open %s: %w", device, err)
	}
	return f.Close()
}

func requireBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s is required (install ffmpeg and ensure it is in PATH): %w", name, err)
	}
	return nil
}
