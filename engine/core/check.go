package core

import "fmt"

// Check reports an invariant violation. Debug builds panic; release builds
// log a warning and return false so the caller can turn the offending
// operation into a no-op.
func Check(cond bool, msg string, args ...interface{}) bool {
	if cond {
		return true
	}
	if debugBuild {
		panic(fmt.Sprintf(msg, args...))
	}
	getLogger().Helper()
	LogWarn(msg, args...)
	return false
}
