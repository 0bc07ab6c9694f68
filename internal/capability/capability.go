// SPDX-License-Identifier: MIT

// Package capability adapts the external tools behind the worker's
// stage interfaces: yt-dlp for downloading, vot-cli for voice-over
// synthesis and ffmpeg for final assembly.
package capability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/worker"
)

// stderrTail is how much trailing tool output rides along on errors.
const stderrTail = 4096

// run executes a tool and returns its stdout. Failures carry the tail
// of stderr so the error event is actually diagnosable.
func run(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.FromContext(ctx).Debug().Str("bin", bin).Strs("args", args).Msg("exec")
	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, worker.Permanent(bin+" is not installed", err)
	}
	return nil, fmt.Errorf("%s: %w: %s", bin, err, tail(stderr.Bytes()))
}

func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return strings.TrimSpace(string(b))
}
