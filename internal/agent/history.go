package agent

import (
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultHistoryLimit is how many messages History keeps per channel.
const DefaultHistoryLimit = 40

// History keeps the most recent messages of each channel in memory.
type History struct {
	mu       sync.RWMutex
	limit    int
	channels map[string][]models.HistoryMessage
}

// NewHistory creates a History keeping at most limit messages per channel.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, channels: make(map[string][]models.HistoryMessage)}
}

// Get returns a copy of the channel's messages, oldest first.
func (h *History) Get(channelID string) []models.HistoryMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.channels[channelID]
	out := make([]models.HistoryMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Append adds messages, dropping the oldest beyond the limit.
func (h *History) Append(channelID string, msgs ...models.HistoryMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := append(h.channels[channelID], msgs...)
	if len(all) > h.limit {
		all = append([]models.HistoryMessage(nil), all[len(all)-h.limit:]...)
	}
	h.channels[channelID] = all
}

// Forget drops a channel's messages.
func (h *History) Forget(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, channelID)
}
