// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 1 << 20

// Stream yields generated text fragments. It is not safe for concurrent use.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner

	model      string
	tokens     int
	doneReason string
	done       bool

	closeOnce sync.Once
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Stream{ctx: ctx, body: body, scanner: sc}
}

// Next returns the next non-empty fragment. It returns io.EOF after the
// final chunk, and a *ClientError if the backend reports an error or the
// stream breaks off early.
func (s *Stream) Next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return "", wrapContextErr(err)
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if ctxErr := s.ctx.Err(); ctxErr != nil {
					return "", wrapContextErr(ctxErr)
				}
				return "", &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
			}
			s.done = true
			return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "stream ended before completion"}
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}
		if chunk.Error != "" {
			s.done = true
			return "", classifyAPIError(chunk.Error)
		}
		if chunk.Model != "" {
			s.model = chunk.Model
		}
		if chunk.Done {
			s.done = true
			s.doneReason = chunk.DoneReason
			s.tokens = chunk.EvalCount
			if chunk.Response == "" {
				return "", io.EOF
			}
		}
		if chunk.Response != "" {
			if !chunk.Done {
				s.tokens++
			}
			return chunk.Response, nil
		}
	}
}

// Model returns the model name reported by the backend.
func (s *Stream) Model() string { return s.model }

// Tokens returns the generated token count seen so far, or the backend's
// final count once the stream is done.
func (s *Stream) Tokens() int { return s.tokens }

// DoneReason returns why generation stopped ("stop", "length").
func (s *Stream) DoneReason() string { return s.doneReason }

// Close releases the connection. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// Drain only a finished stream so the connection can be reused;
		// closing early aborts an unfinished one.
		if s.done {
			_, _ = io.Copy(io.Discard, io.LimitReader(s.body, maxLineBytes))
		}
		err = s.body.Close()
	})
	return err
}

func wrapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeCanceled, Message: "request canceled", Cause: err}
}
