// Package state holds the bookkeeping shared by every part of one mirror run.
package state

import (
	"path/filepath"
	"sync"

	"sitemirror/internal/storage"
)

// File is a discovered remote file and where it belongs locally
type File struct {
	URL       string
	LocalPath string
}

// CrawlState is the lock-guarded accumulator of a run: visited pages,
// discovered files, skipped files and the folder to file mapping.
// The zero value is not usable; call New.
type CrawlState struct {
	mu sync.Mutex

	visited    map[string]struct{}
	visitOrder []string
	files      map[string]string
	fileOrder  []string
	owners     map[string]string
	skipped    map[string]struct{}
	skipOrder  []string
	fileTree   map[string][]string
	downloaded int
	failed     int
}

// New returns an empty CrawlState
func New() *CrawlState {
	return &CrawlState{
		visited:  make(map[string]struct{}),
		files:    make(map[string]string),
		owners:   make(map[string]string),
		skipped:  make(map[string]struct{}),
		fileTree: make(map[string][]string),
	}
}

// MarkVisited records url as visited. It returns false if url was already
// visited, making the check and the insert one atomic step.
func (s *CrawlState) MarkVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.visited[url]; ok {
		return false
	}
	s.visited[url] = struct{}{}
	s.visitOrder = append(s.visitOrder, url)
	return true
}

// Visited reports whether url has been visited
func (s *CrawlState) Visited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[url]
	return ok
}

// AddFile registers a discovered file in allFiles and under its folder in the
// file tree. Each local path belongs to a single URL: added is false when url
// was already registered or when another URL claimed localPath first. owner
// is the URL that holds localPath afterwards.
func (s *CrawlState) AddFile(url, localPath string) (owner string, added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[url]; ok {
		return url, false
	}
	if holder, ok := s.owners[localPath]; ok {
		return holder, false
	}
	s.files[url] = localPath
	s.fileOrder = append(s.fileOrder, url)
	s.owners[localPath] = url

	folder := filepath.Dir(localPath)
	s.fileTree[folder] = append(s.fileTree[folder], localPath)
	return url, true
}

// AddSkipped records a local path (already present) or URL (failed validation)
func (s *CrawlState) AddSkipped(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.skipped[key]; ok {
		return
	}
	s.skipped[key] = struct{}{}
	s.skipOrder = append(s.skipOrder, key)
}

// IsSkipped reports whether key was recorded as skipped
func (s *CrawlState) IsSkipped(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.skipped[key]
	return ok
}

// RecordDownloaded counts a completed download
func (s *CrawlState) RecordDownloaded() {
	s.mu.Lock()
	s.downloaded++
	s.mu.Unlock()
}

// RecordFailed counts a failed download
func (s *CrawlState) RecordFailed() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Counts returns the downloaded and failed totals
func (s *CrawlState) Counts() (downloaded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloaded, s.failed
}

// VisitedURLs returns the visited pages in visit order
func (s *CrawlState) VisitedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visitOrder...)
}

// Files returns every discovered file in discovery order
func (s *CrawlState) Files() []File {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]File, 0, len(s.fileOrder))
	for _, url := range s.fileOrder {
		out = append(out, File{URL: url, LocalPath: s.files[url]})
	}
	return out
}

// Skipped returns the skipped keys in the order they were recorded
func (s *CrawlState) Skipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skipOrder...)
}

// FileTree returns a copy of the folder to file mapping
func (s *CrawlState) FileTree() storage.FileTreeReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := make(storage.FileTreeReport, len(s.fileTree))
	for folder, files := range s.fileTree {
		report[folder] = append([]string(nil), files...)
	}
	return report
}
