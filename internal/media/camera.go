package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Camera grabs single JPEG frames with ffmpeg.
type Camera struct {
	Binary string
	Device string
	GOOS   string
}

// NewCamera returns a camera for device on goos. An empty device picks the
// platform default.
func NewCamera(device, goos string) *Camera {
	if device == "" {
		switch goos {
		case "darwin":
			device = "0"
		default:
			device = "/dev/video0"
		}
	}
	return &Camera{Binary: "ffmpeg", Device: device, GOOS: goos}
}

// Permission reports whether the device can be opened.
func (c *Camera) Permission(ctx context.Context) error {
	if err := requireBinary(c.Binary); err != nil {
		return err
	}
	return devicePermission(c.Device)
}

// Capture returns one JPEG frame.
func (c *Camera) Capture(ctx context.Context) ([]byte, error) {
	args, err := c.args()
	if err != nil {
		return nil, err
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg snapshot: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg snapshot: empty frame")
	}
	return stdout.Bytes(), nil
}

func (c *Camera) args() ([]string, error) {
	common := []string{"-hide_banner", "-loglevel", "error"}
	tail := []string{"-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-"}
	switch c.GOOS {
	case "darwin":
		return append(append(common, "-f", "avfoundation", "-framerate", "30", "-i", c.Device), tail...), nil
	case "linux":
		return append(append(common, "-f", "v4l2", "-i", c.Device), tail...), nil
	default:
		return nil, fmt.Errorf("camera capture is not implemented for %s; supported platforms: darwin, linux", c.GOOS)
	}
}
