package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// Call it in a defer at the outermost frame of an entry point:
//
//	defer observability.RecoverPanic(logger, "webhook handler")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
	}
}

// RecoverToError converts a recovered panic into an error, logging the stack
//
//	func (s *Service) Submit(...) (resp *Response, err error) {
//	    defer func() {
//	        if perr := observability.RecoverToError(logger, "intake", recover()); perr != nil {
//	            err = perr
//	        }
//	    }()
//	    ...
//	}
func RecoverToError(logger *Logger, where string, r interface{}) error {
	if r == nil {
		return nil
	}
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("PANIC recovered")
	return fmt.Errorf("panic in %s: %v", where, r)
}
