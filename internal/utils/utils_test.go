// internal/utils/utils_test.go
package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Shop.Example.com:443/p/1/", "https://shop.example.com/p/1"},
		{"http://shop.example.com:80", "http://shop.example.com/"},
		{"https://shop.example.com/p/1?b=2&a=1#reviews", "https://shop.example.com/p/1?a=1&b=2"},
		{"  https://shop.example.com:8443/x ", "https://shop.example.com:8443/x"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := NormalizeURL("http://[::1")
	assert.Error(t, err)
}

func TestCleanFileName(t *testing.T) {
	assert.Equal(t, "a_b_c", CleanFileName("a/b:c"))
	assert.Equal(t, "output", CleanFileName(" .. "))
	assert.Len(t, CleanFileName(string(make([]byte, 300))), 200)
}

func TestImageExtension(t *testing.T) {
	assert.Equal(t, ".jpg", ImageExtension("image/jpeg; charset=binary", "https://cdn/x"))
	assert.Equal(t, ".webp", ImageExtension("image/webp", "https://cdn/x.png"))
	assert.Equal(t, ".png", ImageExtension("application/octet-stream", "https://cdn/a/B.PNG?w=300"))
	assert.Equal(t, ".bin", ImageExtension("", "https://cdn/a/image"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.0m", FormatDuration(2*time.Minute))
	assert.Equal(t, "1.5h", FormatDuration(90*time.Minute))
}

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey("buyer@example.com"), 64)
	assert.Equal(t, HashKey("a"), HashKey("a"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
}

func TestHostLimiters_SetRate(t *testing.T) {
	h := NewHostLimiters(0, 1)
	h.SetRate("slow", 2)
	h.SetRate("ignored", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, h.Wait(ctx, "slow"))
	assert.Error(t, h.Wait(ctx, "slow"))

	for i := 0; i < 10; i++ {
		require.NoError(t, h.Wait(context.Background(), "ignored"))
	}
}
