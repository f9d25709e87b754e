package pluginhost

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// processSandbox isolates a plugin as a child OS process, framing requests
// and responses over its stdin/stdout with a 4-byte big-endian length
// prefix followed by the raw payload bytes. The prefix matches
// event.WriteFrame's, but the payload is not a gob-encoded event. No
// process-sandboxing library appears anywhere in the example pack, so this
// uses os/exec directly.
type processSandbox struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu sync.Mutex // serializes Invoke: one in-flight request at a time per process
}

// NewExternalProcessSandbox starts entryPoint as a child process and
// returns a Sandbox that communicates with it over length-prefixed frames.
func NewExternalProcessSandbox(ctx context.Context, entryPoint string) (Sandbox, error) {
	cmd := exec.CommandContext(ctx, entryPoint)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pluginhost: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pluginhost: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pluginhost: start plugin process %q: %w", entryPoint, err)
	}
	return &processSandbox{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

func (s *processSandbox) Invoke(ctx context.Context, request []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFrame(s.stdin, request); err != nil {
		return nil, fmt.Errorf("pluginhost: write request frame: %w", err)
	}

	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := readFrame(s.stdout)
		done <- result{payload, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("pluginhost: read response frame: %w", r.err)
		}
		return r.payload, nil
	}
}

func (s *processSandbox) Close(ctx context.Context) error {
	_ = s.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
