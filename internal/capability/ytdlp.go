// SPDX-License-Identifier: MIT

package capability

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/worker"
)

// YtDlp downloads the source video with yt-dlp.
type YtDlp struct {
	Bin string
}

func NewYtDlp(bin string) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{Bin: bin}
}

// ytdlpInfo is the slice of yt-dlp's JSON metadata dump the pipeline
// keeps. Field names follow the tool, not our wire format.
type ytdlpInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Uploader    string  `json:"uploader"`
	UploadDate  string  `json:"upload_date"`
	Description string  `json:"description"`
	Thumbnail   string  `json:"thumbnail"`
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	VCodec      string  `json:"vcodec"`
	ACodec      string  `json:"acodec"`
	Filename    string  `json:"_filename"`
}

func (y *YtDlp) Download(ctx context.Context, p model.DownloadParams) (worker.DownloadResult, error) {
	out, err := run(ctx, y.Bin, downloadArgs(p))
	if err != nil {
		return worker.DownloadResult{}, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return worker.DownloadResult{}, worker.Permanent("decoding yt-dlp metadata", err)
	}
	if info.Filename == "" {
		return worker.DownloadResult{}, worker.Permanent("yt-dlp reported no output file", nil)
	}

	return worker.DownloadResult{
		VideoPath: info.Filename,
		Meta:      info.patch(),
	}, nil
}

// downloadArgs builds the yt-dlp invocation. --print-json with
// --no-simulate downloads and dumps metadata in one pass.
func downloadArgs(p model.DownloadParams) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-simulate",
		"--print-json",
		"-o", filepath.Join(p.TempDir, "video.%(ext)s"),
	}
	if p.FormatPreset != "" && p.FormatPreset != "best" {
		args = append(args, "-f", p.FormatPreset)
	}
	if p.OutputContainer != "" {
		args = append(args, "--merge-output-format", p.OutputContainer)
	}
	if p.DownloadSubtitles {
		args = append(args, "--write-subs", "--sub-langs", p.TargetLang+",en")
	}
	if p.Proxy != "" {
		args = append(args, "--proxy", p.Proxy)
	}
	if p.CookiesFile != "" {
		args = append(args, "--cookies", p.CookiesFile)
	}
	if p.RateLimit != "" {
		args = append(args, "--limit-rate", p.RateLimit)
	}
	return append(args, p.URL)
}

func (i ytdlpInfo) patch() model.MediaPatch {
	patch := model.MediaPatch{}
	setStr := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	setStr(&patch.SourceID, i.ID)
	setStr(&patch.SourceTitle, i.Title)
	setStr(&patch.SourceUploader, i.Uploader)
	setStr(&patch.SourceUploadDate, i.UploadDate)
	setStr(&patch.SourceDescription, i.Description)
	setStr(&patch.SourceThumbnailURL, i.Thumbnail)
	if i.Duration > 0 {
		patch.DurationSec = &i.Duration
	}
	if i.Width > 0 {
		patch.Width = &i.Width
	}
	if i.Height > 0 {
		patch.Height = &i.Height
	}
	if i.FPS > 0 {
		patch.FPS = &i.FPS
	}
	setStr(&patch.VideoCodec, i.VCodec)
	setStr(&patch.AudioCodec, i.ACodec)
	return patch
}

var _ worker.Downloader = (*YtDlp)(nil)
