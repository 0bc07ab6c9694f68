// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vodub/vodub/internal/fsutil"
	"github.com/vodub/vodub/internal/store"
)

// QueueChecker pings the Redis broker.
type QueueChecker struct {
	client *redis.Client
}

func NewQueueChecker(client *redis.Client) *QueueChecker {
	return &QueueChecker{client: client}
}

func (c *QueueChecker) Name() string { return "queue" }

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusOK}
}

// DBChecker pings the persistence store.
type DBChecker struct {
	store store.Store
}

func NewDBChecker(st store.Store) *DBChecker {
	return &DBChecker{store: st}
}

func (c *DBChecker) Name() string { return "db" }

func (c *DBChecker) Check(ctx context.Context) CheckResult {
	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusOK}
}

// FilesystemChecker verifies the media root exists and has free space
// above the backpressure threshold.
type FilesystemChecker struct {
	root         string
	minFreeBytes uint64
}

func NewFilesystemChecker(root string, minFreeBytes uint64) *FilesystemChecker {
	return &FilesystemChecker{root: root, minFreeBytes: minFreeBytes}
}

func (c *FilesystemChecker) Name() string { return "filesystem" }

func (c *FilesystemChecker) Check(_ context.Context) CheckResult {
	if err := fsutil.EnsureDir(c.root); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	free, err := fsutil.DiskFree(c.root)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if c.minFreeBytes > 0 && free < c.minFreeBytes {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d bytes free, %d required", free, c.minFreeBytes),
		}
	}
	return CheckResult{Status: StatusOK}
}
