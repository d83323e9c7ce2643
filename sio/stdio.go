package sio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/noxide/loam/util"
)

// Stdio is a fairly simple Couplings that uses stdin for input and
// stdout for output.  Lines starting with '#' and blank lines are
// ignored; "quit" ends the session.
type Stdio struct {
	In  io.Reader
	Out io.Writer

	// EchoInput writes input lines (prepended with "input") to the
	// output.
	EchoInput bool

	// InputEOF is closed on EOF from stdin (or "quit").
	InputEOF chan bool

	wg      sync.WaitGroup
	outLock sync.Mutex
}

func NewStdio() *Stdio {
	return &Stdio{
		In:       os.Stdin,
		Out:      os.Stdout,
		InputEOF: make(chan bool),
	}
}

func (s *Stdio) Start(ctx context.Context, in chan<- Input) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		stdin := bufio.NewReader(s.In)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line, err := stdin.ReadString('\n')
			if err == io.EOF || strings.TrimSpace(line) == "quit" {
				close(s.InputEOF)
				return
			}
			if err != nil {
				util.Logf("sio.Stdio read error %s", err)
				return
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			if s.EchoInput {
				s.reply([]byte("input " + trimmed))
			}
			select {
			case <-ctx.Done():
				return
			case in <- Input{Source: "stdio", Body: []byte(trimmed), Reply: s.reply}:
			}
		}
	}()
	return nil
}

func (s *Stdio) reply(bs []byte) error {
	s.outLock.Lock()
	defer s.outLock.Unlock()
	_, err := fmt.Fprintf(s.Out, "%s\n", bs)
	return err
}

// Stop waits for the input pump.  Cancellation cannot unblock a
// pending ReadString, so after a canceled context the pump goroutine
// stays parked on s.In until it yields a line or EOF; for os.Stdin it
// is simply abandoned at process exit.  Closing stdin is the
// caller's problem; usually the context does the work.
func (s *Stdio) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	case <-s.InputEOF:
		return nil
	}
}
