package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dumpHTML snapshots a page that parsed to nothing, for offline
// selector debugging. It must never fail the run: any error is logged
// at debug and dropped.
func (p *Pipeline) dumpHTML(kind, identifier, html string) {
	if p.cfg.DebugDumpDir == "" {
		return
	}
	if err := os.MkdirAll(p.cfg.DebugDumpDir, 0o755); err != nil {
		p.logger.Debug("could not create dump directory", "dir", p.cfg.DebugDumpDir, "error", err)
		return
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s_%s_%s.html", kind, identifier, timestamp)
	path := filepath.Join(p.cfg.DebugDumpDir, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		p.logger.Debug("failed to dump HTML snapshot", "path", path, "error", err)
		return
	}
	p.logger.Debug("dumped HTML snapshot", "path", path)
}
