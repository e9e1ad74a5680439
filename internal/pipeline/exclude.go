package pipeline

import (
	"path"
	"strings"
)

// Matcher decides which paths of the source tree stay out of the archive.
// Paths are slash separated and relative to the source directory.
//
// Pattern forms:
//
//	dir/       the directory and everything below it
//	*.log      glob against the whole path and against the base name
//	name       exact path, anything below it, or any file with that base name
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher, dropping blank patterns
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// Empty reports whether the matcher excludes nothing
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Excluded reports whether relPath matches any pattern
func (m *Matcher) Excluded(relPath string, isDir bool) bool {
	if m.Empty() {
		return false
	}
	relPath = strings.TrimPrefix(relPath, "./")
	for _, p := range m.patterns {
		if dir, ok := strings.CutSuffix(p, "/"); ok {
			if isDir && relPath == dir || strings.HasPrefix(relPath, dir+"/") {
				return true
			}
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p, path.Base(relPath)); ok {
				return true
			}
			continue
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if !isDir && path.Base(relPath) == p {
			return true
		}
	}
	return false
}
