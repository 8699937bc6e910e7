package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/threaddispatch/internal/api"
	"github.com/mattjoyce/threaddispatch/internal/events"
)

type (
	eventMsg        events.Event
	healthMsg       api.HealthzResponse
	tickMsg         time.Time
	errMsg          struct{ err error }
	streamClosedMsg struct{}
	reconnectMsg    struct{}
)

func (e errMsg) Error() string { return e.err.Error() }

var healthClient = &http.Client{Timeout: 2 * time.Second}

// streamEvents opens GET /events, resuming after lastID when non-zero, and
// forwards every event into ch until the stream ends.
func streamEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg{err}
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Accept", "text/event-stream")
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return streamClosedMsg{}
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			return errMsg{fmt.Errorf("event stream refused (%s); check --api-key scopes", resp.Status)}
		default:
			return errMsg{fmt.Errorf("GET /events: %s", resp.Status)}
		}

		_ = readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return streamClosedMsg{}
	}
}

// readSSE decodes a text/event-stream body. Multiple data lines of one event
// are joined with newlines; comments and unknown fields are ignored.
func readSSE(r io.Reader, emit func(events.Event)) error {
	sc := bufio.NewScanner(r)
	var (
		ev   events.Event
		data []string
	)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				ev.At = time.Now()
				emit(ev)
			}
			ev, data = events.Event{}, data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				ev.ID = id
			}
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}

func nextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the unauthenticated /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	resp, err := healthClient.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errMsg{fmt.Errorf("GET /healthz: %s", resp.Status)}
	}
	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{fmt.Errorf("decode /healthz: %w", err)}
	}
	return h
}
