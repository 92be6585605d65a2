package openai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/poiesic/athena/core"
)

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// classifyError maps a client error onto the core taxonomy.
// Rejected requests (bad request, auth, unknown model) are configuration bugs;
// everything else a remote service can do wrong is worth retrying.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch code {
		case 400, 401, 403, 404, 422:
			return fmt.Errorf("%w: provider rejected request: %w", core.ErrInvalidInput, err)
		}
	}
	return fmt.Errorf("%w: %w", core.ErrTransientProvider, err)
}
