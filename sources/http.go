package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/poiesic/athena/core"
)

// CheckResponse maps a non-2xx response onto the error taxonomy.
// Rate limits and server errors are transient; other client errors are invalid input.
func CheckResponse(resp *http.Response, service string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout {
		return fmt.Errorf("%w: %s returned HTTP %d: %s", core.ErrTransientProvider, service, resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: %s returned HTTP %d: %s", core.ErrInvalidInput, service, resp.StatusCode, msg)
}

// TransportError marks a failed round trip as transient unless the caller gave up.
func TransportError(err error, service string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s request: %w", core.ErrTransientProvider, service, err)
}
