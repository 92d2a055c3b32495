// Package safego launches goroutines that recover from panics instead of
// crashing the process.
package safego

import (
	"go.uber.org/zap"
)

// Go launches fn in a goroutine. If fn panics, the panic is logged and the
// goroutine exits cleanly instead of taking the process down with it.
//
// Usage:
//
//	safego.Go(logger, "catalog-refresh", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
