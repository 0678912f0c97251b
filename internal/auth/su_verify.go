package auth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

var errAuthBackend = errors.New("auth backend error")

const suTimeout = 6 * time.Second

// verifyWithSu defers password verification to su(1) behind a pty, for
// hash formats crypt cannot check (yescrypt, bcrypt). su prompts on the
// pty; we answer once and read the exit status.
func (a *Authenticator) verifyWithSu(username, password string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), suTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "su", "-s", "/bin/sh", "-c", "true", username)
	f, err := pty.Start(cmd)
	if err != nil {
		return false, fmt.Errorf("%w: start su: %v", errAuthBackend, err)
	}
	defer func() { _ = f.Close() }()

	prompted := false
	var out bytes.Buffer
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		br := bufio.NewReader(f)
		buf := make([]byte, 4096)
		for {
			_ = f.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, rerr := br.Read(buf)
			if n > 0 {
				out.Write(buf[:n])
				lower := strings.ToLower(out.String())
				if !prompted && strings.Contains(lower, "password") {
					prompted = true
					_, _ = io.WriteString(f, password+"\n")
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	err = cmd.Wait()
	<-readerDone

	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: su timed out", errAuthBackend)
	}
	a.log.Debug("su rejected credentials", zap.Bool("prompted", prompted))
	return false, nil
}
