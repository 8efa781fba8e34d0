package templates

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTemplateCache_SetAndGet(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("https://example.com/prompt.md", "# Review Prompt")

	content, ok := cache.Get("https://example.com/prompt.md")
	assert.True(t, ok)
	assert.Equal(t, "# Review Prompt", content)
}

func TestTemplateCache_Miss(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	content, ok := cache.Get("https://example.com/nonexistent.md")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}

func TestTemplateCache_TTLExpiry(t *testing.T) {
	cache := NewCache(50 * time.Millisecond)

	cache.Set("https://example.com/prompt.md", "content")

	// Should be present immediately
	content, ok := cache.Get("https://example.com/prompt.md")
	assert.True(t, ok)
	assert.Equal(t, "content", content)

	// Wait for TTL to expire
	time.Sleep(60 * time.Millisecond)

	// Should be expired
	content, ok = cache.Get("https://example.com/prompt.md")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}

func TestTemplateCache_Overwrite(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("https://example.com/prompt.md", "old content")
	cache.Set("https://example.com/prompt.md", "new content")

	content, ok := cache.Get("https://example.com/prompt.md")
	assert.True(t, ok)
	assert.Equal(t, "new content", content)
}

func TestTemplateCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(1 * time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Set("shared-key", "content")
		}()
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get("shared-key")
		}()
	}
	wg.Wait()

	content, ok := cache.Get("shared-key")
	assert.True(t, ok)
	assert.Equal(t, "content", content)
}
