package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/domain"
)

const maxStderr = 4096

var _ core.Prober = (*Prober)(nil)

// Prober reads source metadata with ffprobe.
type Prober struct {
	Binary string
	Logger zerolog.Logger
}

func NewProber(binary string, logger zerolog.Logger) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{Binary: binary, Logger: logger.With().Str("module", "ffprobe").Logger()}
}

func (p *Prober) Probe(ctx context.Context, src string) (*domain.Metadata, error) {
	// #nosec G204 -- binary comes from config, src is opaque to the shell
	cmd := exec.CommandContext(ctx, p.Binary, ProbeArgs(src)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, runErr := cmd.Output()
	meta, err := parseProbe(out)
	if err != nil {
		if runErr != nil {
			msg := stderr.String()
			if len(msg) > maxStderr {
				msg = msg[:maxStderr] + "..."
			}
			return nil, fmt.Errorf("ffprobe: %w (stderr: %s)", runErr, strings.TrimSpace(msg))
		}
		return nil, err
	}
	if runErr != nil {
		// ffprobe exits non-zero on damaged tails but still prints usable JSON.
		p.Logger.Warn().Err(runErr).Str("source", src).Msg("ffprobe non-zero exit, output accepted")
	}
	return meta, nil
}

type probeOutput struct {
	Streams []struct {
		Index        int    `json:"index"`
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		Duration     string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		Size       string `json:"size"`
	} `json:"format"`
}

func parseProbe(out []byte) (*domain.Metadata, error) {
	var data probeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if data.Format.FormatName == "" {
		return nil, errors.New("ffprobe reported no format")
	}

	meta := &domain.Metadata{
		Container: strings.TrimSpace(strings.Split(data.Format.FormatName, ",")[0]),
		Duration:  parseFloat(data.Format.Duration),
		BitRate:   int64(parseFloat(data.Format.BitRate)),
		Size:      int64(parseFloat(data.Format.Size)),
	}
	for _, s := range data.Streams {
		if s.CodecType != "video" && s.CodecType != "audio" {
			continue
		}
		meta.Streams = append(meta.Streams, domain.StreamInfo{
			Index:     s.Index,
			CodecType: s.CodecType,
			CodecName: s.CodecName,
			Width:     s.Width,
			Height:    s.Height,
			FPS:       frameRate(s.AvgFrameRate),
		})
		if meta.Duration == 0 {
			meta.Duration = parseFloat(s.Duration)
		}
	}
	if len(meta.Streams) == 0 {
		return nil, errors.New("ffprobe found no audio or video stream")
	}
	return meta, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// frameRate parses ffprobe rationals such as "30000/1001".
func frameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}
