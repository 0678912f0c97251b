package proc

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// pump multiplexes the child's stdout and stderr pipes into one log file.
// It owns the byte counter and the file handle; nothing else touches
// them. A wake pipe stops it promptly: no timeout polling.
type pump struct {
	outR, errR   *os.File
	wakeR, wakeW *os.File
	file         *os.File

	written int64
	max     int64

	done chan struct{}
	log  *zap.Logger
	kill func()
}

func startPump(outR, errR *os.File, logPath string, maxBytes int64, log *zap.Logger, kill func()) (*pump, error) {
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", logPath, err)
	}
	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	for _, f := range []*os.File{outR, errR, wakeR} {
		if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
			_ = file.Close()
			closeAll(wakeR, wakeW)
			return nil, fmt.Errorf("set nonblock: %w", err)
		}
	}

	p := &pump{
		outR: outR, errR: errR,
		wakeR: wakeR, wakeW: wakeW,
		file: file,
		max:  maxBytes,
		done: make(chan struct{}),
		log:  log,
		kill: kill,
	}
	go p.loop()
	return p, nil
}

func (p *pump) loop() {
	defer close(p.done)
	defer func() {
		closeAll(p.outR, p.errR, p.wakeR, p.file)
	}()

	streams := []*os.File{p.outR, p.errR}
	open := []bool{true, true}
	buf := make([]byte, 4096)

	for open[0] || open[1] {
		fds := make([]unix.PollFd, 0, 3)
		idx := make([]int, 0, 2)
		for i, s := range streams {
			if open[i] {
				fds = append(fds, unix.PollFd{Fd: int32(s.Fd()), Events: unix.POLLIN})
				idx = append(idx, i)
			}
		}
		fds = append(fds, unix.PollFd{Fd: int32(p.wakeR.Fd()), Events: unix.POLLIN})

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			p.log.Warn("log pump poll failed", zap.Error(err))
			return
		}

		// Wake requested: drain whatever sits in the half-closed pipes,
		// then exit. Readiness of the stream fds no longer matters.
		if fds[len(fds)-1].Revents != 0 {
			for i, s := range streams {
				if open[i] {
					p.drain(s)
				}
			}
			return
		}

		for k, i := range idx {
			if fds[k].Revents == 0 {
				continue
			}
			if !p.pour(streams[i], buf) {
				open[i] = false
			}
		}
	}
}

// pour moves available bytes from one stream into the sink. Returns
// false once the stream is exhausted (EOF or closed peer).
func (p *pump) pour(s *os.File, buf []byte) bool {
	for {
		n, err := s.Read(buf)
		if n > 0 {
			p.sink(buf[:n])
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return true
			}
			return false
		}
		if n == 0 {
			return false
		}
	}
}

// drain reads a stream to exhaustion during shutdown so buffered output
// is never dropped.
func (p *pump) drain(s *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			p.sink(buf[:n])
		}
		if err != nil || n == 0 {
			return
		}
	}
}

// sink writes through the byte cap. Bytes beyond the cap are discarded;
// the pipe read already happened, so the child saw a full-length write
// and never blocks on us. Unrecoverable file errors escalate to killing
// the child: a session we cannot log is a session we cannot supervise.
func (p *pump) sink(b []byte) {
	if p.file == nil || p.written >= p.max {
		return
	}
	if rem := p.max - p.written; int64(len(b)) > rem {
		b = b[:rem]
	}
	n, err := p.file.Write(b)
	p.written += int64(n)
	if err != nil {
		p.log.Error("log pump write failed, killing child", zap.Error(err))
		_ = p.file.Close()
		p.file = nil
		if p.kill != nil {
			p.kill()
		}
	}
}

// stop wakes the pump and joins it. Idempotent via the closed wake pipe:
// a second write fails silently and done is already closed.
func (p *pump) stop() {
	_, _ = p.wakeW.Write([]byte{0})
	<-p.done
	_ = p.wakeW.Close()
}
