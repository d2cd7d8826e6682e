package agent

import (
	"fmt"
	"sync"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_TrimsToLimit(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append("c1", models.HistoryMessage{Role: "user", Content: fmt.Sprint(i)})
	}
	got := h.Get("c1")
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].Content)
	assert.Equal(t, "4", got[2].Content)
	assert.Empty(t, h.Get("c2"))
}

func TestHistory_GetReturnsCopy(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistoryLimit, h.limit)
	h.Append("c1", models.HistoryMessage{Role: "user", Content: "hi"})
	got := h.Get("c1")
	got[0].Content = "changed"
	assert.Equal(t, "hi", h.Get("c1")[0].Content)

	h.Forget("c1")
	assert.Empty(t, h.Get("c1"))
}

func TestChannelLocks_SerializeAndRelease(t *testing.T) {
	locks := newChannelLocks()
	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("c1")
			mu.Lock()
			counter++
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Equal(t, 0, locks.size())

	unlockA := locks.lock("a")
	unlockB := locks.lock("b")
	assert.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.size())
}
