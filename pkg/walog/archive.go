package walog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// archiver keeps a bounded ring of lz4-compressed copies of checkpointed
// log segments, purely for post-mortem debugging (spec.md §4.4.4's
// "truncates the log" step never reads these back — recovery only ever
// looks at the live WAL file). This is the "[GO] Checkpoint archival"
// feature from SPEC_FULL.md §4.4.
type archiver struct {
	mu      sync.Mutex
	dir     string
	retain  int
	nextIdx int
}

func newArchiver(dir string, retain int) *archiver {
	if retain <= 0 {
		retain = 3
	}
	return &archiver{dir: dir, retain: retain}
}

func (a *archiver) archive(segment []byte) {
	if a.dir == "" || len(segment) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return
	}

	idx := a.nextIdx % a.retain
	a.nextIdx++

	path := filepath.Join(a.dir, fmt.Sprintf("segment-%d.lz4", idx))

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(segment); err != nil {
		zw.Close()
		return
	}
	if err := zw.Close(); err != nil {
		return
	}

	_ = os.WriteFile(path, compressed.Bytes(), 0644)
}
