package mw

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

type panicWithStack struct {
	value interface{}
	stack []byte
}

// TimeoutConfig defines timeout behavior per path prefix.
type TimeoutConfig struct {
	// Default timeout for most endpoints
	Default time.Duration
	// Extended timeout for generation endpoints, which wait on a provider.
	Extended time.Duration
	// ExtendedPrefixes are path prefixes that get the Extended timeout.
	ExtendedPrefixes []string
}

func (c TimeoutConfig) timeoutFor(path string) time.Duration {
	for _, prefix := range c.ExtendedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return c.Extended
		}
	}
	return c.Default
}

// Timeout bounds each request with a context deadline and answers 504 when
// the handler has not finished in time. A zero timeout disables the bound.
func Timeout(cfg TimeoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			timeout := cfg.timeoutFor(r.URL.Path)
			if timeout <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			panicChan := make(chan *panicWithStack, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- &panicWithStack{value: p, stack: debug.Stack()}
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case p := <-panicChan:
				panic(fmt.Sprintf("%v\n\nOriginal stack trace:\n%s", p.value, p.stack))
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					w.WriteHeader(http.StatusGatewayTimeout)
				}
			}
		})
	}
}
