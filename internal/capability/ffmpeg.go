// SPDX-License-Identifier: MIT

package capability

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/worker"
)

// FFmpeg assembles the final container. With a dubbed track it produces
// two audio streams: the untouched original and the voice-over mixed
// over a ducked original, loudness-normalized. Without one it remuxes.
type FFmpeg struct {
	Bin string
}

func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{Bin: bin}
}

func (f *FFmpeg) Mux(ctx context.Context, p model.MuxParams) (string, error) {
	out := outputFile(p)
	if _, err := run(ctx, f.Bin, muxArgs(p, out)); err != nil {
		return "", err
	}
	return out, nil
}

func outputFile(p model.MuxParams) string {
	container := p.OutputContainer
	if container == "" {
		container = "mp4"
	}
	return filepath.Join(p.TempDir, "output."+container)
}

func muxArgs(p model.MuxParams, out string) []string {
	if p.AudioDubbedPath == "" {
		// No dubbing requested: remux into the target container.
		return []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", p.VideoPath,
			"-c", "copy",
			out,
		}
	}

	filter := fmt.Sprintf(
		"[0:a]volume=%.2f[duck];[duck][1:a]amix=inputs=2:duration=first:normalize=0[mix];[mix]loudnorm=I=%.1f[mixed]",
		p.DuckingLevel, p.NormalizationLufs)

	lang := p.TargetLang
	if lang == "" {
		lang = "und"
	}
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", p.VideoPath,
		"-i", p.AudioDubbedPath,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "0:a", // original track, untouched
		"-map", "[mixed]", // voice-over mixed over ducked original
		"-c:v", "copy",
		"-c:a", "aac",
		"-metadata:s:a:1", "language=" + lang,
		"-metadata:s:a:1", "title=Voice-over",
		out,
	}
}

var _ worker.Muxer = (*FFmpeg)(nil)
