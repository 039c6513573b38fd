package pricing

import "context"

// Snapshot is one emission of a watched query.
type Snapshot struct {
	Seq    int          `json:"seq"`
	Result Result       `json:"result"`
	Event  *ChangeEvent `json:"event,omitempty"`
}

// Watch emits fetch's result once, then again after every event, stopping after
// max snapshots (max <= 0 means no cap), when events closes, or when ctx ends.
// The returned channel is closed on exit. Restart by calling Watch again.
func Watch(ctx context.Context, fetch func(context.Context) Result, events <-chan ChangeEvent, max int) <-chan Snapshot {
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		seq := 0
		emit := func(evt *ChangeEvent) bool {
			seq++
			snap := Snapshot{Seq: seq, Result: fetch(ctx), Event: evt}
			select {
			case out <- snap:
			case <-ctx.Done():
				return false
			}
			return max <= 0 || seq < max
		}
		if !emit(nil) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if !emit(&evt) {
					return
				}
			}
		}
	}()
	return out
}
