package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

type MediaKind string

const (
	Video MediaKind = "video"
	Audio MediaKind = "audio"
)

func (k MediaKind) Valid() bool {
	return k == Video || k == Audio
}

type Resolution struct {
	Name    string // e.g. "1080p"
	Width   int
	Height  int
	Bitrate string // e.g. "5000k"
}

// Profile is everything ffmpeg needs to produce one output format.
type Profile struct {
	Name         string      `json:"name"`
	Extension    string      `json:"extension"`
	ContentType  string      `json:"content_type"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	VideoCodec   string      `json:"video_codec,omitempty"`
	AudioCodec   string      `json:"audio_codec"`
	AudioBitrate string      `json:"audio_bitrate,omitempty"`
	DropVideo    bool        `json:"drop_video"`
}

const audioBitrateVideo = "128k"
const audioBitrateLossy = "192k"

var videoBitrates = map[int]string{
	1080: "5000k",
	720:  "3000k",
	480:  "1500k",
	360:  "800k",
}

// NewResolution derives a 16:9 frame from the requested height, with the
// width rounded down.
func NewResolution(height int) Resolution {
	return Resolution{
		Name:    fmt.Sprintf("%dp", height),
		Width:   height * 16 / 9,
		Height:  height,
		Bitrate: videoBitrates[height],
	}
}

// EncodeWidth is the width handed to the scaler. libx264 with yuv420p rejects
// odd widths, so 853 becomes 852.
func (r Resolution) EncodeWidth() int {
	return r.Width &^ 1
}

var formats = map[MediaKind][]string{
	Video: {"360p", "480p", "720p", "1080p", "mp3"},
	Audio: {"mp3", "wav", "ogg"},
}

// Formats lists the output formats offered for an input kind.
func Formats(kind MediaKind) []string {
	return append([]string(nil), formats[kind]...)
}

func ProfileFor(kind MediaKind, format string) (Profile, error) {
	format = strings.ToLower(strings.TrimSpace(format))

	allowed := false
	for _, f := range formats[kind] {
		if f == format {
			allowed = true
			break
		}
	}
	if !allowed {
		return Profile{}, fmt.Errorf("%w: %s for %s", ErrUnsupportedFormat, format, kind)
	}

	switch format {
	case "360p", "480p", "720p", "1080p":
		var height int
		fmt.Sscanf(format, "%dp", &height)
		res := NewResolution(height)
		return Profile{
			Name:         format,
			Extension:    "mp4",
			ContentType:  "video/mp4",
			Resolution:   &res,
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			AudioBitrate: audioBitrateVideo,
		}, nil
	case "mp3":
		return Profile{
			Name:         format,
			Extension:    "mp3",
			ContentType:  "audio/mpeg",
			AudioCodec:   "libmp3lame",
			AudioBitrate: audioBitrateLossy,
			DropVideo:    true,
		}, nil
	case "wav":
		return Profile{
			Name:        format,
			Extension:   "wav",
			ContentType: "audio/wav",
			AudioCodec:  "pcm_s16le",
			DropVideo:   true,
		}, nil
	case "ogg":
		return Profile{
			Name:         format,
			Extension:    "ogg",
			ContentType:  "audio/ogg",
			AudioCodec:   "libvorbis",
			AudioBitrate: audioBitrateLossy,
			DropVideo:    true,
		}, nil
	}

	return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Args builds the ffmpeg command line for one profile.
func Args(inputPath, outputPath string, p Profile) []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
	}

	if p.DropVideo {
		args = append(args, "-vn", "-map", "0:a:0")
	} else if p.Resolution != nil {
		r := p.Resolution
		args = append(args,
			"-map", "0:v:0",
			"-map", "0:a?",
			"-vf", fmt.Sprintf("scale=%d:%d", r.EncodeWidth(), r.Height),
			"-c:v", p.VideoCodec,
			"-preset", "veryfast",
			"-b:v", r.Bitrate,
			"-maxrate", r.Bitrate,
			"-bufsize", doubleBitrate(r.Bitrate),
			"-pix_fmt", "yuv420p",
		)
	}

	args = append(args, "-c:a", p.AudioCodec)
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	if !p.DropVideo {
		args = append(args, "-ac", "2", "-movflags", "+faststart")
	}

	return append(args, outputPath)
}

func doubleBitrate(b string) string {
	var n int
	if _, err := fmt.Sscanf(b, "%dk", &n); err != nil {
		return b
	}
	return fmt.Sprintf("%dk", n*2)
}

type Transcoder struct {
	binary string
}

func New() *Transcoder {
	return &Transcoder{binary: "ffmpeg"}
}

// NewWithBinary points the transcoder at a specific ffmpeg executable.
func NewWithBinary(path string) *Transcoder {
	return &Transcoder{binary: path}
}

// Transcode runs ffmpeg and removes any partial output when it fails.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string, p Profile) error {
	args := Args(inputPath, outputPath, p)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	zap.L().Info("ffmpeg: transcoding", zap.String("profile", p.Name), zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("ffmpeg %s: %w: %s", p.Name, err, lastLine(stderr.String()))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("ffmpeg %s: output missing: %w", p.Name, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return fmt.Errorf("ffmpeg %s: empty output", p.Name)
	}

	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
