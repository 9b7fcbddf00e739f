package platform

import "runtime"

// runtimeGosched yields the current goroutine's processor, matching the
// first phase of the spin-lock backoff schedule (§4.3: "yield").
func runtimeGosched() {
	runtime.Gosched()
}
