package domain

// Metadata describes the master source as reported by the prober.
// It is fetched once per session and never mutated afterwards.
type Metadata struct {
	Duration  float64      `json:"duration"`
	Container string       `json:"container"`
	BitRate   int64        `json:"bit_rate,omitempty"`
	Size      int64        `json:"size,omitempty"`
	Streams   []StreamInfo `json:"streams"`
}

type StreamInfo struct {
	Index     int     `json:"index"`
	CodecType string  `json:"codec_type"`
	CodecName string  `json:"codec_name"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FPS       float64 `json:"fps,omitempty"`
}
