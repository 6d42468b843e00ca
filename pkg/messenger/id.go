package messenger

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

var messageCounter atomic.Int64

// NewMessageID builds a message id combining a nanosecond timestamp, the
// sender, a process-wide monotonic counter, and an 8-hex digest of the
// payload — collision resistance, not cryptographic, per spec.md §4.A.
// Grounded on agent_messenger.py's _generate_message_id, which combines a
// microsecond timestamp with a per-instance sequence and a payload hash;
// the atomic counter replaces the Python per-instance sequence so the id
// stays unique across concurrently-sending goroutines in one process.
func NewMessageID(fromAgent string, data map[string]any) string {
	seq := messageCounter.Add(1)
	digest := payloadDigest(data)
	return fmt.Sprintf("%d-%s-%d-%s", time.Now().UnixNano(), fromAgent, seq, digest)
}

func payloadDigest(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", data))
	}
	sum := md5.Sum(b)
	return fmt.Sprintf("%x", sum)[:8]
}
