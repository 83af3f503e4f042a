package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a [Stream] is abandoned before its Chunks channel closes so
// the producer is never left blocked on a full channel.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
