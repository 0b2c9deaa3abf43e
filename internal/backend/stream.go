package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// streamingTimeout bounds a whole streaming request. Streams run far
// longer than regular calls, so the client default does not apply.
const streamingTimeout = 300 * time.Second

// ErrStreamDone is returned by EventStream.Next after the final event.
var ErrStreamDone = errors.New("stream done")

// EventStream reads Server-Sent-Events-style chunked text: lines
// prefixed "data: " carry JSON payloads. The caller must Close it on
// every exit path.
type EventStream struct {
	rc     io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	done   bool
}

// Next returns the payload of the next "data:" line, skipping blank
// separator lines and comments. After the stream ends it returns
// ErrStreamDone.
func (s *EventStream) Next() ([]byte, error) {
	if s.done {
		return nil, ErrStreamDone
	}
	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			if data, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
				if bytes.Equal(data, []byte("[DONE]")) {
					s.done = true
					return nil, ErrStreamDone
				}
				return data, nil
			}
			// Non-data lines (event names, comments) carry nothing we
			// consume; skip them.
		}
		if err == io.EOF {
			s.done = true
			return nil, ErrStreamDone
		}
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
	}
}

// Close releases the underlying connection and its deadline timer.
func (s *EventStream) Close() error {
	err := s.rc.Close()
	s.cancel()
	return err
}

// Stream issues the request and returns the response body as an event
// stream. Streaming requests are never retried: a broken stream cannot
// be resumed, so the caller restarts with a new call.
func (c *Client) Stream(ctx context.Context, req Request) (*EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindCancelled, Message: "request cancelled before send", Err: err}
	}

	for _, ri := range c.reqInterceptors {
		if err := ri(ctx, &req); err != nil {
			return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
		}
	}

	if req.Header == nil {
		req.Header = http.Header{}
	}
	if c.tokens != nil && !req.SkipAuth {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("loading credentials: %v", err), Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = streamingTimeout
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, reqErr := http.NewRequestWithContext(streamCtx, req.Method, c.baseURL+req.Path, reader)
	if reqErr != nil {
		cancel()
		return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("building request: %v", reqErr), Err: reqErr}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, doErr := c.httpClient.Do(httpReq)
	if doErr != nil {
		defer cancel()
		return nil, classifySendError(ctx, streamCtx, doErr, time.Since(started))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		cancel()
		return nil, httpError(&Response{Status: resp.StatusCode, Header: resp.Header, Body: data})
	}

	return &EventStream{
		rc:     resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}
