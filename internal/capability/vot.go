// SPDX-License-Identifier: MIT

package capability

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/worker"
)

// VotCli synthesizes the translated voice-over track with vot-cli.
// The tool writes its output file asynchronously after the translation
// service finishes, so Dub polls for the file after the process exits.
type VotCli struct {
	Bin string

	// PollInterval and PollTimeout bound the wait for the output file.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func NewVotCli(bin string) *VotCli {
	if bin == "" {
		bin = "vot-cli"
	}
	return &VotCli{
		Bin:          bin,
		PollInterval: 2 * time.Second,
		PollTimeout:  2 * time.Minute,
	}
}

func (v *VotCli) Dub(ctx context.Context, p model.DubParams) (string, error) {
	if _, err := run(ctx, v.Bin, dubArgs(p)); err != nil {
		return "", err
	}

	out := p.OutputPath
	if out == "" {
		out = filepath.Join(p.TempDir, "audio_dubbed.mp3")
	}
	err := worker.WaitFor(ctx, v.PollInterval, v.PollTimeout, func(context.Context) (bool, error) {
		info, err := os.Stat(out)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return info.Size() > 0, nil
	})
	if err != nil {
		return "", worker.Transient("voice-over track never materialized", err)
	}
	return out, nil
}

func dubArgs(p model.DubParams) []string {
	args := []string{
		"--reslang", p.TargetLang,
		"--output", filepath.Dir(outputPath(p)),
		"--output-file", filepath.Base(outputPath(p)),
	}
	if p.UseLivelyVoice {
		args = append(args, "--lively")
	}
	return append(args, p.URL)
}

func outputPath(p model.DubParams) string {
	if p.OutputPath != "" {
		return p.OutputPath
	}
	return filepath.Join(p.TempDir, "audio_dubbed.mp3")
}

var _ worker.Dubber = (*VotCli)(nil)
