// SPDX-License-Identifier: MIT

package worker

import "path/filepath"

// Layout maps jobs onto the media root. Work in progress lives under
// incomplete/{jobId}/ and finished files move atomically into
// complete/.
type Layout struct {
	Root string
}

func (l Layout) IncompleteDir(jobID string) string {
	return filepath.Join(l.Root, "incomplete", jobID)
}

func (l Layout) CompleteDir() string {
	return filepath.Join(l.Root, "complete")
}

// FinalPath is the library destination for a finished job.
func (l Layout) FinalPath(title, sourceID, container, jobID string) string {
	return filepath.Join(l.CompleteDir(), FinalFileName(title, sourceID, container, jobID))
}

// CookiesPath is where a job's cookies file is written for the
// downloader.
func (l Layout) CookiesPath(jobID string) string {
	return filepath.Join(l.IncompleteDir(jobID), "cookies.txt")
}
