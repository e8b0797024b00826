package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

const recordSampleRateHz = 44100

// Recorder captures one microphone utterance at a time into an AAC file.
type Recorder struct {
	Binary string
	Device string
	Format string
	GOOS   string
	Dir    string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	path  string
	done  chan error
}

// NewRecorder returns a recorder producing m4a files from device.
func NewRecorder(device, goos string) *Recorder {
	if device == "" {
		switch goos {
		case "darwin":
			device = ":0"
		default:
			device = "default"
		}
	}
	return &Recorder{Binary: "ffmpeg", Device: device, Format: "m4a", GOOS: goos, Dir: os.TempDir()}
}

// Permission reports whether the input can be opened.
func (r *Recorder) Permission(ctx context.Context) error {
	if err := requireBinary(r.Binary); err != nil {
		return err
	}
	return devicePermission(r.Device)
}

// Start launches ffmpeg writing to a temporary file.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return ErrBusy
	}

	f, err := os.CreateTemp(r.Dir, "utterance-*."+r.Format)
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	args, err := r.args(path)
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	cmd := exec.Command(r.Binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("start ffmpeg recording: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	r.cmd, r.stdin, r.path, r.done = cmd, stdin, path, done
	return nil
}

// Stop asks ffmpeg to finish the file, then returns its contents. ffmpeg is
// killed if it does not exit in time or ctx ends.
func (r *Recorder) Stop(ctx context.Context) ([]byte, string, error) {
	r.mu.Lock()
	cmd, stdin, path, done := r.cmd, r.stdin, r.path, r.done
	r.cmd, r.stdin, r.path, r.done = nil, nil, "", nil
	r.mu.Unlock()
	if cmd == nil {
		return nil, "", errors.New("media: not recording")
	}
	defer os.Remove(path)

	// "q" on stdin makes ffmpeg write the trailer and exit cleanly
	_, _ = io.WriteString(stdin, "q")
	_ = stdin.Close()

	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done
		return nil, "", errors.New("media: ffmpeg did not finish the recording")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, "", ctx.Err()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read recording: %w", err)
	}
	return data, r.Format, nil
}

func (r *Recorder) args(path string) ([]string, error) {
	var input []string
	switch r.GOOS {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", r.Device}
	case "linux":
		input = []string{"-f", "pulse", "-i", r.Device}
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", r.GOOS)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, input...)
	args = append(args, "-ac", "1", "-ar", fmt.Sprintf("%d", recordSampleRateHz))
	switch r.Format {
	case "m4a", "":
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	case "wav":
		args = append(args, "-c:a", "pcm_s16le")
	default:
		return nil, fmt.Errorf("unsupported recording format %q", r.Format)
	}
	return append(args, filepath.Clean(path)), nil
}
