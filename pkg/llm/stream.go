package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Stream yields text increments. Recv returns io.EOF after the last one and
// keeps returning the terminal error afterwards.
type Stream struct {
	recv   func() (string, error)
	close  func() error
	err    error
	closed bool
}

func NewStream(recv func() (string, error), close func() error) *Stream {
	return &Stream{recv: recv, close: close}
}

// StreamOf replays text as a single increment.
func StreamOf(text string) *Stream {
	sent := false
	return NewStream(func() (string, error) {
		if sent {
			return "", io.EOF
		}
		sent = true
		return text, nil
	}, nil)
}

func (s *Stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		chunk, err := s.recv()
		if err != nil {
			s.err = err
			_ = s.Close()
			return "", err
		}
		if chunk != "" {
			return chunk, nil
		}
	}
}

func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.close != nil {
		return s.close()
	}
	return nil
}

// Collect drains s into one string.
func Collect(s *Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// sseReader pulls server-sent events off a response body.
type sseReader struct {
	br *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{br: bufio.NewReader(r)}
}

// Next returns the next event with a data payload.
func (r *sseReader) Next() (event, data string, err error) {
	var dataLines []string
	for {
		line, rerr := r.br.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return "", "", rerr
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(dataLines) > 0 {
				return event, strings.Join(dataLines, "\n"), nil
			}
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if rerr != nil {
			if len(dataLines) > 0 {
				return event, strings.Join(dataLines, "\n"), nil
			}
			return "", "", io.EOF
		}
	}
}
