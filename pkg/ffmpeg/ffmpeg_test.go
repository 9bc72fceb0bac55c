package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNewResolution(t *testing.T) {
	cases := map[int]int{360: 640, 480: 853, 720: 1280, 1080: 1920}
	for height, width := range cases {
		res := NewResolution(height)
		require.Equal(t, width, res.Width, "height %d", height)
		require.Zero(t, res.EncodeWidth()%2, "height %d", height)
		require.Equal(t, height, res.Height)
		require.NotEmpty(t, res.Bitrate)
	}
}

func TestProfileForVideo(t *testing.T) {
	p, err := ProfileFor(Video, "720p")
	require.NoError(t, err)
	require.Equal(t, "mp4", p.Extension)
	require.Equal(t, "libx264", p.VideoCodec)
	require.Equal(t, "aac", p.AudioCodec)
	require.Equal(t, 1280, p.Resolution.Width)
	require.False(t, p.DropVideo)

	p, err = ProfileFor(Video, "MP3")
	require.NoError(t, err)
	require.True(t, p.DropVideo)
	require.Equal(t, "libmp3lame", p.AudioCodec)
}

func TestProfileForAudio(t *testing.T) {
	wav, err := ProfileFor(Audio, "wav")
	require.NoError(t, err)
	require.Equal(t, "pcm_s16le", wav.AudioCodec)
	require.Empty(t, wav.AudioBitrate)

	ogg, err := ProfileFor(Audio, "ogg")
	require.NoError(t, err)
	require.Equal(t, "libvorbis", ogg.AudioCodec)
	require.Equal(t, "192k", ogg.AudioBitrate)
}

func TestProfileForRejectsMismatchedKind(t *testing.T) {
	_, err := ProfileFor(Audio, "720p")
	require.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = ProfileFor(Video, "wav")
	require.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = ProfileFor(MediaKind("image"), "mp3")
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestArgsVideo(t *testing.T) {
	p, _ := ProfileFor(Video, "480p")
	args := Args("in.mkv", "out.mp4", p)

	require.Equal(t, 853, p.Resolution.Width)
	require.Contains(t, args, "scale=852:480")
	require.Contains(t, args, "libx264")
	require.Contains(t, args, "1500k")
	require.Contains(t, args, "3000k")
	require.Equal(t, "out.mp4", args[len(args)-1])
	require.NotContains(t, args, "-vn")
}

func TestArgsAudioDropsVideo(t *testing.T) {
	p, _ := ProfileFor(Video, "mp3")
	args := Args("in.mp4", "out.mp3", p)

	require.Contains(t, args, "-vn")
	require.Contains(t, args, "libmp3lame")
	require.NotContains(t, args, "-vf")
}

func TestFormatsReturnsCopy(t *testing.T) {
	f := Formats(Audio)
	f[0] = "flac"
	require.Equal(t, "mp3", Formats(Audio)[0])
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestTranscodeSuccess(t *testing.T) {
	bin := writeScript(t, "for last; do :; done\necho converted > \"$last\"\n")
	out := filepath.Join(t.TempDir(), "out.mp3")

	p, _ := ProfileFor(Audio, "mp3")
	err := NewWithBinary(bin).Transcode(context.Background(), "in.wav", out, p)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "converted\n", string(data))
}

func TestTranscodeFailureRemovesPartialOutput(t *testing.T) {
	bin := writeScript(t, "for last; do :; done\necho partial > \"$last\"\necho 'codec exploded' >&2\nexit 1\n")
	out := filepath.Join(t.TempDir(), "out.mp3")

	p, _ := ProfileFor(Audio, "mp3")
	err := NewWithBinary(bin).Transcode(context.Background(), "in.wav", out, p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "codec exploded")

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr))
}
