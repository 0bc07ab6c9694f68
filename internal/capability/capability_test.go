// SPDX-License-Identifier: MIT

package capability

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/model"
)

func TestDownloadArgs(t *testing.T) {
	p := model.DownloadParams{
		JobID:           "j1",
		URL:             "https://example.test/v1",
		FormatPreset:    "best",
		OutputContainer: "mp4",
		TempDir:         "/tmp/work/j1",
	}
	args := downloadArgs(p)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--no-playlist")
	assert.Contains(t, joined, "-o /tmp/work/j1/video.%(ext)s")
	assert.Contains(t, joined, "--merge-output-format mp4")
	// "best" is yt-dlp's default; no -f flag.
	assert.NotContains(t, args, "-f")
	assert.Equal(t, p.URL, args[len(args)-1])

	p.FormatPreset = "bestvideo[height<=720]+bestaudio"
	p.Proxy = "socks5://127.0.0.1:9050"
	p.CookiesFile = "/tmp/work/j1/cookies.txt"
	p.RateLimit = "2M"
	p.DownloadSubtitles = true
	p.TargetLang = "ru"
	joined = strings.Join(downloadArgs(p), " ")
	assert.Contains(t, joined, "-f bestvideo[height<=720]+bestaudio")
	assert.Contains(t, joined, "--proxy socks5://127.0.0.1:9050")
	assert.Contains(t, joined, "--cookies /tmp/work/j1/cookies.txt")
	assert.Contains(t, joined, "--limit-rate 2M")
	assert.Contains(t, joined, "--sub-langs ru,en")
}

func TestYtdlpInfoPatch(t *testing.T) {
	raw := `{
		"id": "abc123", "title": "A Talk", "uploader": "someone",
		"upload_date": "20240110", "duration": 93.5,
		"width": 1920, "height": 1080, "fps": 29.97,
		"vcodec": "h264", "acodec": "opus",
		"_filename": "/tmp/work/j1/video.mp4"
	}`
	var info ytdlpInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))

	patch := info.patch()
	require.NotNil(t, patch.SourceID)
	assert.Equal(t, "abc123", *patch.SourceID)
	assert.Equal(t, "A Talk", *patch.SourceTitle)
	assert.Equal(t, 93.5, *patch.DurationSec)
	assert.Equal(t, 1080, *patch.Height)
	assert.Nil(t, patch.SourceDescription)
	assert.Nil(t, patch.SourceThumbnailURL)
}

func TestDubArgs(t *testing.T) {
	p := model.DubParams{
		JobID:      "j1",
		URL:        "https://example.test/v1",
		TargetLang: "ru",
		TempDir:    "/tmp/work/j1",
		OutputPath: "/tmp/work/j1/audio_dubbed.mp3",
	}
	joined := strings.Join(dubArgs(p), " ")
	assert.Contains(t, joined, "--reslang ru")
	assert.Contains(t, joined, "--output /tmp/work/j1")
	assert.Contains(t, joined, "--output-file audio_dubbed.mp3")
	assert.NotContains(t, joined, "--lively")

	p.UseLivelyVoice = true
	assert.Contains(t, strings.Join(dubArgs(p), " "), "--lively")
}

func TestMuxArgsRemuxOnly(t *testing.T) {
	p := model.MuxParams{
		JobID:           "j1",
		VideoPath:       "/tmp/work/j1/video.mp4",
		OutputContainer: "mkv",
		TempDir:         "/tmp/work/j1",
	}
	out := outputFile(p)
	assert.Equal(t, "/tmp/work/j1/output.mkv", out)

	joined := strings.Join(muxArgs(p, out), " ")
	assert.Contains(t, joined, "-c copy")
	assert.NotContains(t, joined, "filter_complex")
}

func TestMuxArgsWithDubbedTrack(t *testing.T) {
	p := model.MuxParams{
		JobID:             "j1",
		VideoPath:         "/tmp/work/j1/video.mp4",
		AudioDubbedPath:   "/tmp/work/j1/audio_dubbed.mp3",
		TargetLang:        "ru",
		OutputContainer:   "mp4",
		DuckingLevel:      0.3,
		NormalizationLufs: -16,
		TempDir:           "/tmp/work/j1",
	}
	args := muxArgs(p, outputFile(p))
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "volume=0.30")
	assert.Contains(t, joined, "amix=inputs=2")
	assert.Contains(t, joined, "loudnorm=I=-16.0")
	assert.Contains(t, joined, "language=ru")
	// Original audio survives as its own track.
	assert.Contains(t, joined, "-map 0:a")
}
