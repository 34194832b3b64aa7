package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowValidate(t *testing.T) {
	tests := []struct {
		name string
		w    Window
		ok   bool
	}{
		{"first window", Window{0, 5}, true},
		{"ends at duration", Window{5, 10}, true},
		{"inverted", Window{5, 4}, false},
		{"empty", Window{3, 3}, false},
		{"negative start", Window{-1, 2}, false},
		{"past duration", Window{8, 10.5}, false},
		{"too long", Window{0, 9}, false},
		{"nan", Window{math.NaN(), 2}, false},
		{"inf", Window{0, math.Inf(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate(10, 8)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrWindow)
			assert.False(t, IsFatal(err))
		})
	}
}

func TestWindowValidate_NoLengthCap(t *testing.T) {
	assert.NoError(t, Window{0, 10}.Validate(10, 0))
}

func TestParseCredential(t *testing.T) {
	c := NewCredential()
	got, err := ParseCredential(string(c))
	require.NoError(t, err)
	assert.Equal(t, c, got)

	for _, bad := range []string{"", "../etc/passwd", "not-a-uuid", "{" + string(c) + "}"} {
		_, err := ParseCredential(bad)
		assert.ErrorIs(t, err, ErrCredential, bad)
	}
}

func TestStateAllows(t *testing.T) {
	assert.True(t, StateReady.Allows(ActionStart))
	assert.False(t, StateActive.Allows(ActionStart))
	assert.False(t, StateReady.Allows(ActionStream))
	assert.True(t, StateActive.Allows(ActionStream))
	assert.True(t, StateStreaming.Allows(ActionStream))
	assert.False(t, StateClosed.Allows(ActionStream))
	assert.Equal(t, "STREAMING", StateStreaming.String())
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("%w: x", ErrProtocol)))
	assert.True(t, IsFatal(fmt.Errorf("%w: x", ErrCredential)))
	assert.False(t, IsFatal(ErrExtraction))
	assert.Equal(t, "extraction_failed", ErrorCode(fmt.Errorf("wrap: %w", ErrExtraction)))
	assert.Equal(t, "concurrent_request", ErrorCode(ErrConcurrentRequest))
	assert.Equal(t, "window_invalid", ErrorCode(ErrWindow))
	assert.Equal(t, "probe_failed", ErrorCode(ErrProbe))
	assert.Equal(t, "internal", ErrorCode(errors.New("boom")))
}

func TestPublicReason(t *testing.T) {
	window := fmt.Errorf("%w: end 12.000 beyond duration 10.000", ErrWindow)
	assert.Equal(t, window.Error(), PublicReason(window))

	extraction := fmt.Errorf("%w: ffmpeg [0.000,5.000): exit status 1 (stderr: /srv/media/video.webm: Invalid data)", ErrExtraction)
	assert.NotContains(t, PublicReason(extraction), "/srv")
	assert.NotContains(t, PublicReason(fmt.Errorf("%w: open /srv/media/video.webm", ErrProbe)), "/srv")
	assert.Equal(t, "internal", PublicReason(errors.New("/tmp/secret")))
}
