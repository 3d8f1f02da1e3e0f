package backend

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/xaenox/aurora-bot/internal/models"
	"go.uber.org/zap"
)

// eventReader decodes the chat event stream. Every data frame holds one
// StreamEvent as JSON; some servers put several documents on consecutive
// data lines of a single frame.
type eventReader struct {
	br     *bufio.Reader
	logger *zap.Logger
	queue  []models.StreamEvent
	done   bool
}

func newEventReader(r io.Reader, logger *zap.Logger) *eventReader {
	return &eventReader{br: bufio.NewReader(r), logger: logger}
}

// Next returns the next event in arrival order, or io.EOF once the stream
// closed. Frames that do not decode are logged and skipped.
func (r *eventReader) Next() (models.StreamEvent, error) {
	for len(r.queue) == 0 {
		if r.done {
			return models.StreamEvent{}, io.EOF
		}
		data, err := r.readFrame()
		if err != nil {
			return models.StreamEvent{}, err
		}
		r.queue = r.decode(data)
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// readFrame returns the joined data lines of the next frame. Comments, ids
// and event names carry nothing the chat stream uses. A frame cut off by the
// end of the body is still returned.
func (r *eventReader) readFrame() (string, error) {
	var data []string
	for {
		line, err := r.br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimSpace(rest))
		}

		if err != nil {
			r.done = true
			return strings.Join(data, "\n"), nil
		}
		if line == "" && len(data) > 0 {
			return strings.Join(data, "\n"), nil
		}
	}
}

func (r *eventReader) decode(data string) []models.StreamEvent {
	if data == "" {
		return nil
	}
	var ev models.StreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err == nil {
		return []models.StreamEvent{ev}
	}

	var out []models.StreamEvent
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			r.logger.Warn("Failed to parse SSE data",
				zap.Error(err),
				zap.String("data", line))
			continue
		}
		out = append(out, ev)
	}
	return out
}
