package media

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Player pipes 48kHz s16le mono PCM into ffplay. Reset kills ffplay so
// queued audio stops at once, and the next write starts a fresh process.
type Player struct {
	Binary     string
	SampleRate int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewPlayer returns a player; ffplay is started on first write.
func NewPlayer(sampleRate int) *Player {
	return &Player{Binary: "ffplay", SampleRate: sampleRate}
}

func (p *Player) startLocked() error {
	if err := requireBinary(p.Binary); err != nil {
		return err
	}
	cmd := exec.Command(p.Binary,
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", p.SampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	p.cmd = cmd
	p.stdin = stdin
	return nil
}

// WritePCM queues audio for playback.
func (p *Player) WritePCM(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		if err := p.startLocked(); err != nil {
			return err
		}
	}
	if _, err := p.stdin.Write(data); err != nil {
		p.killLocked()
		return fmt.Errorf("write ffplay: %w", err)
	}
	return nil
}

// FlushTail pads the stream with a short silence so ffplay does not drop
// the last partial buffer.
func (p *Player) FlushTail() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return nil
	}
	// 20ms of silence
	_, err := p.stdin.Write(make([]byte, p.SampleRate/50*2))
	return err
}

// Reset drops queued audio.
func (p *Player) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	return nil
}

// Close stops playback.
func (p *Player) Close() error {
	return p.Reset()
}

func (p *Player) killLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.cmd = nil
	p.stdin = nil
}
