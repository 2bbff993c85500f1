package backends

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bookreader/backends")

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// TruncatePrompt cuts prompt to at most maxLen characters. Prompts already
// within the limit are returned unchanged.
func TruncatePrompt(prompt string, maxLen int) string {
	if maxLen < 0 || utf8.RuneCountInString(prompt) <= maxLen {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:maxLen])
}

// doJSON sends body (if any) as JSON to path on client's base URL and decodes
// a JSON response into out. Network failures, non-2xx statuses and
// undecodable bodies are reported as *TransportError.
func doJSON(ctx context.Context, client *resty.Client, backend, method, path string, body, out any) error {
	req := client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(out)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		te := &TransportError{Backend: backend, Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode()
		}
		return te
	}
	if resp.IsError() {
		b := resp.Body()
		if len(b) > maxErrorBody {
			b = b[:maxErrorBody]
		}
		return &TransportError{
			Backend:    backend,
			StatusCode: resp.StatusCode(),
			Body:       string(b),
			Err:        fmt.Errorf("non-success status %s", resp.Status()),
		}
	}
	return nil
}

func statusError(backend string, resp *http.Response) *TransportError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Body:       string(b),
		Err:        fmt.Errorf("non-success status %s", resp.Status),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
