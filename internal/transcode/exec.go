package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrTimeout = errors.New("operation timed out")

const waitDelay = 2 * time.Second

// run executes a tool and returns its combined output. The child is killed when
// ctx ends; waitDelay bounds how long we wait on pipes a killed child leaves open.
func run(ctx context.Context, log *zap.Logger, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay

	start := time.Now()
	out, err := cmd.CombinedOutput()
	name := filepath.Base(bin)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return out, fmt.Errorf("%s: %w", name, ErrTimeout)
			}
			return out, fmt.Errorf("%s: %w", name, ctxErr)
		}
		log.Warn("tool failed", zap.String("tool", name), zap.Error(err), zap.String("output", tail(out, 600)))
		return out, fmt.Errorf("%s: %w: %s", name, err, tail(out, 200))
	}
	log.Debug("tool finished", zap.String("tool", name), zap.Duration("took", time.Since(start)))
	return out, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "…" + s[len(s)-n:]
	}
	return s
}
