// Package source discovers and parses JSONL session log files.
package source

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogExtension is the file extension of session log files.
const LogExtension = ".jsonl"

// FileInfo describes one discovered session log file. The IsNew/IsUpdated
// flags are derived during Diff relative to a watermark; they are never
// stored, every discovery pass recomputes them.
type FileInfo struct {
	Path      string
	Size      int64
	ModTime   time.Time
	IsNew     bool
	IsUpdated bool
}

// FileDiff partitions discovered files relative to a sync watermark.
type FileDiff struct {
	New     []FileInfo
	Updated []FileInfo
	All     []FileInfo
}

// Changed returns the new and updated files in discovery order.
func (d FileDiff) Changed() []FileInfo {
	out := make([]FileInfo, 0, len(d.New)+len(d.Updated))
	out = append(out, d.New...)
	return append(out, d.Updated...)
}

// ListFiles walks root recursively and returns all session log files with
// their size and modified time. An absent root yields an empty result, not
// an error. Unreadable entries are logged and skipped.
func ListFiles(root string) ([]FileInfo, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != LogExtension {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			slog.Warn("skipping unstatable file", "path", path, "error", err)
			return nil
		}

		files = append(files, FileInfo{
			Path:    path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})

	return files, err
}

// Diff classifies files against the last-sync watermark. A zero watermark
// (first sync) marks everything new. Otherwise a file whose modified time is
// after the watermark is new when its path has never been seen before and
// updated when it has; knownPaths is the set of previously synced file paths,
// which is what lets the two cases be told apart.
func Diff(files []FileInfo, watermark time.Time, knownPaths map[string]struct{}) FileDiff {
	diff := FileDiff{All: files}

	for i := range files {
		f := files[i]
		if watermark.IsZero() {
			f.IsNew = true
			diff.New = append(diff.New, f)
			continue
		}
		if !f.ModTime.After(watermark) {
			continue
		}
		if _, seen := knownPaths[f.Path]; seen {
			f.IsUpdated = true
			diff.Updated = append(diff.Updated, f)
		} else {
			f.IsNew = true
			diff.New = append(diff.New, f)
		}
	}

	return diff
}

// SessionIDFromPath derives the natural session key from a log file path.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), LogExtension)
}

// ProjectFromPath extracts a human-readable project name from the file's
// parent directory. Log producers encode absolute paths by replacing "/"
// with "-", so:
//
//	"-home-js-projects-gitlore" -> "gitlore"
//	"-home-js-projects-my-cool-project" -> "my-cool-project"
//
// We find the last known parent component and take everything after it,
// falling back to the last non-empty segment.
func ProjectFromPath(path string) string {
	dirName := filepath.Base(filepath.Dir(path))
	parts := strings.Split(dirName, "-")

	knownParents := map[string]bool{
		"projects": true, "repos": true, "src": true,
		"code": true, "workspace": true, "dev": true,
	}

	for i := len(parts) - 2; i >= 0; i-- {
		if knownParents[strings.ToLower(parts[i])] {
			name := strings.Join(parts[i+1:], "-")
			if name != "" {
				return name
			}
		}
	}

	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}

	return dirName
}
