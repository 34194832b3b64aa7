package ffmpeg

import (
	"strconv"

	"github.com/dkeye/Slicer/internal/domain"
)

func seconds(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

// ExtractArgs seeks the input to [w.Start, w.End) and writes a standalone
// mp4 whose moov atom precedes the media data.
func ExtractArgs(src string, w domain.Window, dst string) []string {
	return []string{
		"-y", "-nostdin", "-hide_banner",
		"-loglevel", "error",
		"-ss", seconds(w.Start),
		"-to", seconds(w.End),
		"-i", src,
		"-f", "mp4",
		"-movflags", "+faststart",
		dst,
	}
}

func ProbeArgs(src string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		src,
	}
}
