package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// transientPatterns are matched against error text when the error carries no type information
var transientPatterns = []string{
	"too many requests",
	"rate limit",
	"connection refused",
	"connection reset",
	"i/o timeout",
	"deadline exceeded",
}

// IsTransient reports whether err is worth retrying: a rate-limit response,
// a refused connection or a timeout. Everything else fails immediately.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// withRetry runs fn, retrying transient failures with exponential backoff.
// Every transient failure counts towards the connection-error budget of the source.
func (s *RPCDataSource) withRetry(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	delay := s.policy.InitialDelay
	var err error

	for i := 0; i <= s.policy.MaxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			s.resetConnectionErrors()
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		s.noteConnectionError()

		if i == s.policy.MaxRetries {
			break
		}

		s.logger.Warn("Failed to call Solana RPC, retrying",
			zap.String("source_id", s.desc.ID),
			zap.String("method", method),
			zap.Int("attempt", i+1),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("retry of %s cancelled: %w", method, sleepErr)
		}
		delay = time.Duration(float64(delay) * s.policy.BackoffMultiplier)
	}

	s.checkConnectionBudget()
	return fmt.Errorf("failed to call %s after %d retries: %w", method, s.policy.MaxRetries, err)
}
