package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/livesync"
)

const maxEventSize = 4 << 20

// Watch opens the server-sent snapshot stream for owner. It returns once the
// server has accepted the stream; snapshots then arrive on the stream.
func (c *Client) Watch(parent context.Context, owner string) (livesync.Stream, error) {
	ctx, cancel := context.WithCancel(parent)
	req, err := c.newRequest(ctx, http.MethodGet, "/api/equipment-lists/"+url.PathEscape(owner)+"/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if ctxErr := parent.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, listErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, listErr(decodeError(resp))
	}

	s := &sseStream{
		snapshots: make(chan []lists.EquipmentList),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.read(ctx, resp)
	return s, nil
}

// sseStream decodes "snapshot" and "error" events from a response body.
type sseStream struct {
	snapshots chan []lists.EquipmentList
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once

	mu  sync.Mutex
	err error
}

func (s *sseStream) Snapshots() <-chan []lists.EquipmentList { return s.snapshots }

func (s *sseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops reading and waits for the reader to exit.
func (s *sseStream) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func (s *sseStream) read(ctx context.Context, resp *http.Response) {
	defer close(s.done)
	defer close(s.snapshots)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "" && data.Len() == 0 {
				continue
			}
			if !s.dispatch(ctx, event, data.String()) {
				return
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		s.fail(fmt.Errorf("%w: read snapshot stream: %v", lists.ErrUnavailable, err))
	}
}

// dispatch handles one complete event and reports whether to keep reading.
func (s *sseStream) dispatch(ctx context.Context, event, data string) bool {
	switch event {
	case "snapshot":
		var snapshot []lists.EquipmentList
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			s.fail(fmt.Errorf("decode snapshot: %w", err))
			return false
		}
		if snapshot == nil {
			snapshot = []lists.EquipmentList{}
		}
		select {
		case s.snapshots <- snapshot:
			return true
		case <-ctx.Done():
			return false
		}
	case "error":
		var detail struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &detail); err != nil {
			s.fail(fmt.Errorf("%w: malformed error event", lists.ErrUnavailable))
			return false
		}
		s.fail(listErr(&APIError{Code: detail.Code, Message: detail.Message}))
		return false
	default:
		return true
	}
}

func (s *sseStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
