package transport

import (
	"strings"

	"github.com/olumi/olumi-go/pkg/schema"
)

// sseRecord is one dispatched server-sent event.
type sseRecord struct {
	Kind schema.EventKind
	Name string // wire spelling, for diagnostics
	Data string
}

// sseParser incrementally splits a byte stream into SSE records. Records
// follow the "event:"/"data:" line framing with a blank line terminating
// each record; a record missing either field is dropped, never guessed
// at. Partial trailing lines are buffered until more bytes arrive.
type sseParser struct {
	buf     strings.Builder
	event   string
	data    []string
	hasData bool
}

// Feed consumes a chunk and returns all records completed by it.
func (p *sseParser) Feed(chunk []byte) []sseRecord {
	p.buf.Write(chunk)
	raw := p.buf.String()

	idx := strings.LastIndexByte(raw, '\n')
	if idx < 0 {
		return nil
	}
	complete, rest := raw[:idx], raw[idx+1:]
	p.buf.Reset()
	p.buf.WriteString(rest)

	var records []sseRecord
	for _, line := range strings.Split(complete, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if rec, ok := p.consumeLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

func (p *sseParser) consumeLine(line string) (sseRecord, bool) {
	switch {
	case line == "":
		return p.flush()

	case strings.HasPrefix(line, "event:"):
		p.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

	case strings.HasPrefix(line, "data:"):
		p.data = append(p.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		p.hasData = true

	case strings.HasPrefix(line, ":"):
		// Comment line, ignored.

	default:
		// Unknown field (id:, retry:, ...), ignored.
	}
	return sseRecord{}, false
}

// flush dispatches the record accumulated so far, requiring both an event
// name and a data payload.
func (p *sseParser) flush() (sseRecord, bool) {
	event, data, hasData := p.event, p.data, p.hasData
	p.event, p.data, p.hasData = "", nil, false

	if event == "" || !hasData {
		return sseRecord{}, false
	}
	return sseRecord{
		Kind: schema.ParseEventKind(event),
		Name: event,
		Data: strings.Join(data, "\n"),
	}, true
}
