package lifecycle

import (
	"runtime/debug"
	"sync"
)

var crashHandlerOnce sync.Once

// installCrashHandler raises the traceback level so an unrecovered panic or
// fatal runtime error prints every goroutine, not just the failing one. It is
// process wide and applied at most once.
func installCrashHandler() {
	crashHandlerOnce.Do(func() {
		debug.SetTraceback("all")
	})
}
