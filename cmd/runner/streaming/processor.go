package streaming

import (
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Processor wraps an agent's output stream so that, when the workflow has
// selected specific fields (tokens of shape "<blockId>_<field>"), only
// those fields are emitted, joined by newline. It is a pure transform on
// the byte stream and never blocks the producer.
type Processor struct {
	logger Logger
}

// NewProcessor creates a streaming processor.
func NewProcessor(logger Logger) *Processor {
	return &Processor{logger: logger}
}

// FieldsFor extracts the field names selected for a block. Tokens whose
// prefix does not match the block id are ignored.
func FieldsFor(blockID string, selected []string) []string {
	var fields []string
	prefix := blockID + "_"
	for _, token := range selected {
		if strings.HasPrefix(token, prefix) {
			fields = append(fields, strings.TrimPrefix(token, prefix))
		}
	}
	return fields
}

// Transform returns a stream emitting only the selected fields of the
// upstream JSON payload. When no selection applies to the block, the
// original stream is returned untouched.
func (p *Processor) Transform(stream io.ReadCloser, blockID string, selected []string) io.ReadCloser {
	fields := FieldsFor(blockID, selected)
	if len(fields) == 0 {
		return stream
	}

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()

		// Partial JSON cannot be extracted from; the whole payload is
		// buffered before fields are pulled out.
		raw, err := io.ReadAll(stream)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		out := Extract(raw, fields)
		if len(out) > 0 {
			pw.Write(out)
		}
		pw.Close()
	}()
	return pr
}

// Extract pulls the selected fields out of a JSON object payload, joined
// by newline in selection order. Non-string values keep their raw JSON
// form. Payloads that do not look like JSON, and parsed payloads carrying
// none of the selected fields, pass through unchanged; both rules keep the
// transform idempotent over its own output. JSON-looking payloads that
// fail to parse produce an empty result.
func Extract(raw []byte, fields []string) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return raw
	}
	if !gjson.Valid(trimmed) {
		return nil
	}

	payload := gjson.Parse(trimmed)
	var parts []string
	for _, field := range fields {
		v := payload.Get(field)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.String {
			parts = append(parts, v.String())
		} else {
			parts = append(parts, v.Raw)
		}
	}
	if len(parts) == 0 {
		return raw
	}
	return []byte(strings.Join(parts, "\n"))
}
