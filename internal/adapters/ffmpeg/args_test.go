package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/Slicer/internal/domain"
)

func TestExtractArgs(t *testing.T) {
	args := ExtractArgs("/media/video.webm", domain.Window{Start: 2.5, End: 7}, "/tmp/out.mp4")
	assert.Equal(t, []string{
		"-y", "-nostdin", "-hide_banner",
		"-loglevel", "error",
		"-ss", "2.500",
		"-to", "7.000",
		"-i", "/media/video.webm",
		"-f", "mp4",
		"-movflags", "+faststart",
		"/tmp/out.mp4",
	}, args)
}

func TestLineRing_KeepsTail(t *testing.T) {
	r := newLineRing(2)
	_, _ = r.Write([]byte("one\ntwo\n"))
	_, _ = r.Write([]byte("three\n\n"))
	assert.Equal(t, "two | three", r.String())
}
