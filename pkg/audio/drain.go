package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you don't need the data from a
// streaming channel (e.g., leftover capture frames during shutdown).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// DrainPending removes and discards every value currently buffered in ch
// without waiting for the channel to close. Used when tearing down a session
// whose producer has already stopped.
func DrainPending[T any](ch <-chan T) int {
	var n int
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
