package downloader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Geergon/media-relay-bot/internal/media"
)

const DefaultStrategyTimeout = 60 * time.Second

var (
	ErrAllFailed       = errors.New("all download methods failed")
	ErrKindMismatch    = errors.New("downloaded media kind does not match request")
	ErrStrategyTimeout = errors.New("strategy timed out")
	ErrStrategyPanic   = errors.New("strategy panicked")
)

// AttemptFunc fetches sourceURL as kind. On success it returns a path to a
// temporary file the caller then owns.
type AttemptFunc func(ctx context.Context, sourceURL string, kind media.Kind) media.DownloadResult

type Strategy struct {
	Name    string
	Timeout time.Duration
	Attempt AttemptFunc
}

type skipKey struct{}

// WithoutStrategies returns a context under which Acquire passes over the named
// strategies. Names accumulate across calls.
func WithoutStrategies(ctx context.Context, names ...string) context.Context {
	skip := append(SkippedStrategies(ctx), names...)
	return context.WithValue(ctx, skipKey{}, skip)
}

// SkippedStrategies lists the strategy names excluded by WithoutStrategies.
func SkippedStrategies(ctx context.Context) []string {
	skip, _ := ctx.Value(skipKey{}).([]string)
	return slices.Clone(skip)
}

// Chain tries its strategies in order until one yields a valid file.
type Chain struct {
	strategies []Strategy
	minSize    int64
	log        *zap.Logger
}

func NewChain(log *zap.Logger, strategies ...Strategy) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{
		strategies: strategies,
		minSize:    media.MinFileSize,
		log:        log,
	}
}

func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name)
	}
	return names
}

func (c *Chain) Acquire(ctx context.Context, sourceURL string, kind media.Kind) media.DownloadResult {
	if !IsHTTPURL(sourceURL) {
		return media.Failed(fmt.Errorf("%w: %q", ErrInvalidURL, sourceURL))
	}
	if kind == "" {
		kind = media.Video
	}

	var (
		errs        []error
		rateLimited bool
	)
	skip := SkippedStrategies(ctx)
	for _, s := range c.strategies {
		if slices.Contains(skip, s.Name) {
			c.log.Debug("strategy skipped", zap.String("strategy", s.Name), zap.String("url", sourceURL))
			continue
		}
		attempt := media.Attempt{Strategy: s.Name, StartedAt: time.Now()}
		res := c.run(ctx, s, sourceURL, kind)
		if res.Success {
			if err := c.validate(res, kind); err != nil {
				_ = media.Remove(res.Path)
				res = media.Failed(err)
			}
		} else if res.Path != "" {
			_ = media.Remove(res.Path)
		}
		attempt.Duration = time.Since(attempt.StartedAt)

		if res.Success {
			attempt.Outcome = "success"
			c.logAttempt(attempt, sourceURL)
			res.Strategy = s.Name
			if res.Kind == "" {
				res.Kind = kind
			}
			return res
		}

		attempt.Outcome = "failure"
		attempt.Err = res.Err
		c.logAttempt(attempt, sourceURL)
		if errors.Is(res.Err, ErrRateLimited) {
			rateLimited = true
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, res.Err))

		if ctx.Err() != nil {
			break
		}
	}

	if rateLimited {
		return media.Failed(fmt.Errorf("%w: %w", ErrRateLimited, errors.Join(errs...)))
	}
	return media.Failed(fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...)))
}

// run executes one strategy under its own deadline. A strategy that ignores its
// context is abandoned at the deadline and whatever it produces later is deleted.
func (c *Chain) run(ctx context.Context, s Strategy, sourceURL string, kind media.Kind) media.DownloadResult {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultStrategyTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan media.DownloadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("strategy panic", zap.String("strategy", s.Name), zap.Any("panic", r))
				done <- media.Failed(fmt.Errorf("%w: %v", ErrStrategyPanic, r))
			}
		}()
		done <- s.Attempt(sctx, sourceURL, kind)
	}()

	select {
	case res := <-done:
		if !res.Success && res.Err == nil {
			res.Err = errors.New("strategy reported failure without a reason")
		}
		return res
	case <-sctx.Done():
		go func() {
			if late := <-done; late.Path != "" {
				_ = media.Remove(late.Path)
			}
		}()
		if ctx.Err() != nil {
			return media.Failed(ctx.Err())
		}
		return media.Failed(fmt.Errorf("%w after %s", ErrStrategyTimeout, timeout))
	}
}

func (c *Chain) validate(res media.DownloadResult, kind media.Kind) error {
	if _, err := media.ValidateFile(res.Path, c.minSize); err != nil {
		return err
	}
	if !kind.Accepts(res.Kind) {
		return fmt.Errorf("%w: want %s, got %s", ErrKindMismatch, kind, res.Kind)
	}
	return nil
}

func (c *Chain) logAttempt(a media.Attempt, sourceURL string) {
	fields := []zap.Field{
		zap.String("strategy", a.Strategy),
		zap.String("url", sourceURL),
		zap.Duration("took", a.Duration),
		zap.String("outcome", a.Outcome),
	}
	if a.Err != nil {
		c.log.Warn("download attempt failed", append(fields, zap.Error(a.Err))...)
		return
	}
	c.log.Info("download attempt", fields...)
}
