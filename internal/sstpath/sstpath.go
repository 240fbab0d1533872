// Package sstpath derives SSTable file paths and decides mirror eligibility
// by name.
package sstpath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// excludedSubstrings are the name fragments that keep a file primary-only.
// Metadata/log files have synchronous durability requirements that defeat
// the mirroring pipeline, so they are never routed to the secondary device.
var excludedSubstrings = []string{
	"MANIFEST",
	"CURRENT",
	".dbtmp",
	"LOG",
	".log",
	"LOCK",
}

// TableFileName returns the path of SSTable fileNumber inside dir, e.g.
// "/data/000042.ldb".
func TableFileName(dir string, fileNumber uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.ldb", fileNumber))
}

// MirrorPath rederives the mirror-side path of primaryPath by substituting
// its directory for mirrorDir, keeping the basename — the same
// fname.substr(fname.find_last_of("/")) trick env_posix.cc uses, so a mirror
// path is always a function of the primary path rather than recomputed from
// scratch at every call site.
func MirrorPath(primaryPath, mirrorDir string) string {
	return filepath.Join(mirrorDir, filepath.Base(primaryPath))
}

// IsMirrorEligible reports whether fname should be fanned out to the mirror
// device. It is always false when mirroring is globally disabled; otherwise
// it is true unless fname names a metadata/log file.
func IsMirrorEligible(fname string, mirrorEnabled bool) bool {
	if !mirrorEnabled {
		return false
	}

	for _, substr := range excludedSubstrings {
		if strings.Contains(fname, substr) {
			return false
		}
	}

	return true
}
