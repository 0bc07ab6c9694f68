// SPDX-License-Identifier: MIT

package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

var idMu sync.Mutex
var lastMillis int64
var idSeq uint32

// NewJobID returns a unique, lexicographically sortable job identifier.
// Layout: 12 hex digits of unix milliseconds, a 4 hex digit per-millisecond
// counter, and 4 random bytes. Sorting the ids sorts by creation time.
func NewJobID() string {
	now := time.Now().UnixMilli()

	idMu.Lock()
	if now == lastMillis {
		idSeq++
	} else {
		lastMillis = now
		idSeq = 0
	}
	seq := idSeq
	idMu.Unlock()

	var suffix [4]byte
	_, _ = rand.Read(suffix[:])

	return fmt.Sprintf("%012x%04x%s", now, seq&0xffff, hex.EncodeToString(suffix[:]))
}
