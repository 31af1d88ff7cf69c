// Package proxy turns a prediction request into a streaming chat call against
// the local backend and hands generated text back fragment by fragment.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultConnectTimeout bounds connection setup and the wait for response
// headers. The stream itself is not capped.
const DefaultConnectTimeout = 60 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL        string
	Model          string
	ConnectTimeout time.Duration
	// HTTPClient overrides the default transport. Its Timeout should be 0.
	HTTPClient *http.Client
	Log        zerolog.Logger
	// OnDecodeWarning is called for every backend line that is not valid JSON.
	OnDecodeWarning func(line []byte, err error)
}

// Client streams chat completions from the backend. It is safe for
// concurrent use; calls share only the connection pool.
type Client struct {
	chatURL   string
	model     string
	http      *http.Client
	log       zerolog.Logger
	onWarning func([]byte, error)
}

// New constructs a Client for the backend at opts.BaseURL.
func New(opts Options) *Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	cli := opts.HTTPClient
	if cli == nil {
		tr := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connect,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: connect,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		// Timeout stays 0: generation length is unbounded, and callers
		// cancel through the context.
		cli = &http.Client{Transport: tr, Timeout: 0}
	}
	onWarning := opts.OnDecodeWarning
	if onWarning == nil {
		onWarning = func([]byte, error) {}
	}
	return &Client{
		chatURL:   strings.TrimRight(opts.BaseURL, "/") + "/api/chat",
		model:     opts.Model,
		http:      cli,
		log:       opts.Log,
		onWarning: onWarning,
	}
}

// Predict returns the backend's output as a lazy sequence of text fragments
// in arrival order. Nothing is sent until the sequence is ranged over. A
// failure ends the sequence with a single ("", err) element. Breaking out of
// the loop closes the backend connection.
func (c *Client) Predict(ctx context.Context, req PredictionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := req.Validate(); err != nil {
			yield("", err)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := c.open(ctx, req)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		r := bufio.NewReader(resp.Body)
		for {
			line, readErr := r.ReadBytes('\n')
			frag, ok, err := c.decode(line)
			if err != nil {
				yield("", err)
				return
			}
			if ok && !yield(frag, nil) {
				return
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield("", ctxErr)
					return
				}
				yield("", &StreamReadError{Err: readErr})
				return
			}
		}
	}
}

func (c *Client) open(ctx context.Context, req PredictionRequest) (*http.Response, error) {
	body, err := json.Marshal(BuildPayload(c.model, req))
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/x-ndjson")

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &StreamConnectError{URL: c.chatURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StreamConnectError{URL: c.chatURL, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(b)))}
	}
	c.log.Debug().Str("model", c.model).Dur("ttfb", time.Since(start)).Msg("chat stream opened")
	return resp, nil
}

// decode extracts the message content from one backend line. A present but
// empty content is still a fragment. Lines that are not JSON are logged and
// skipped; they never end the stream.
func (c *Client) decode(line []byte) (string, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false, nil
	}
	var chunk chatChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		c.log.Warn().Err(err).Int("len", len(line)).Msg("failed to parse response chunk as JSON")
		c.onWarning(line, err)
		return "", false, nil
	}
	if chunk.Error != "" {
		return "", false, &BackendError{Msg: chunk.Error}
	}
	if chunk.Message == nil || chunk.Message.Content == nil {
		return "", false, nil
	}
	return *chunk.Message.Content, true, nil
}

// Collect drains seq into a single string. It stops at the first error.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}
