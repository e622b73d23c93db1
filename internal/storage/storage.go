package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"sitemirror/internal/errors"
	"sitemirror/internal/logger"
)

// RunDirLayout is the time layout of timestamped run directories
const RunDirLayout = "2006-01-02_15-04-05"

// FolderNamespace is the subfolder that holds files imported from cloud folders
const FolderNamespace = "_folders"

var sanitizeRegexp = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// Storage maps remote files onto the local mirror
type Storage struct {
	logger  *logger.Logger
	baseDir string
}

// FileTreeReport maps an absolute folder path to the absolute file paths destined for it
type FileTreeReport map[string][]string

// TreeStatus describes how much of a file tree is present on disk
type TreeStatus struct {
	Folders int
	Files   int
	Present int
	Bytes   int64
	Missing []string
}

// NewStorage creates a new Storage rooted at baseDir, creating it if needed
func NewStorage(baseDir string, logger *logger.Logger) (*Storage, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageError, "failed to resolve base directory").WithContext("path", baseDir)
	}

	s := &Storage{logger: logger, baseDir: abs}
	if err := s.EnsureDir(abs); err != nil {
		return nil, err
	}
	return s, nil
}

// BaseDir returns the absolute mirror root
func (s *Storage) BaseDir() string {
	return s.baseDir
}

// EnsureDir creates a directory if it doesn't exist
func (s *Storage) EnsureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.logger.Debug("Creating directory", map[string]interface{}{"path": path})
		if err := os.MkdirAll(path, 0755); err != nil {
			return errors.Wrap(err, errors.StorageError, "failed to create directory").WithContext("path", path)
		}
	}
	return nil
}

// Exists reports whether something is already stored at path
func (s *Storage) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sanitizeSegment(segment string) string {
	return sanitizeRegexp.ReplaceAllString(segment, "_")
}

// Sanitize maps a URL to a relative filesystem path. The scheme is dropped,
// every "/"-separated segment has reserved characters replaced by "_" and the
// segments are joined with the platform separator. Empty segments are kept.
func Sanitize(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}

	segments := strings.Split(rest, "/")
	for i, segment := range segments {
		segments[i] = sanitizeSegment(segment)
	}
	return strings.Join(segments, string(filepath.Separator))
}

// LocalPath returns the absolute mirror path for a remote file URL
func (s *Storage) LocalPath(rawURL string) (string, error) {
	return s.within(filepath.Join(s.baseDir, Sanitize(rawURL)), rawURL)
}

// FolderPath returns the mirror path for a file imported from a cloud folder.
// These live under FolderNamespace so they never collide with crawled paths.
func (s *Storage) FolderPath(folderID, name string) (string, error) {
	path := filepath.Join(s.baseDir, FolderNamespace, sanitizeSegment(folderID), sanitizeSegment(name))
	return s.within(path, folderID+"/"+name)
}

func (s *Storage) within(path, source string) (string, error) {
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New(errors.StorageError, "path escapes mirror root").
			WithContext("source", source).
			WithContext("path", path)
	}
	return path, nil
}

// PrepareRunDir creates the directory a run writes into: dest itself, or a
// dest/YYYY-MM-DD_HH-MM-SS subdirectory when timestamped is set.
func PrepareRunDir(dest string, timestamped bool, now time.Time) (string, error) {
	dir := dest
	if timestamped {
		dir = filepath.Join(dest, now.Format(RunDirLayout))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, errors.StorageError, "failed to resolve run directory").WithContext("path", dir)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", errors.Wrap(err, errors.StorageError, "failed to create run directory").WithContext("path", abs)
	}
	return abs, nil
}

// WriteFileTree persists the report as indented JSON. The file is replaced
// atomically so a reader never sees a half-written tree.
func WriteFileTree(path string, report FileTreeReport) error {
	if report == nil {
		report = FileTreeReport{}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.StorageError, "failed to encode file tree")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.StorageError, "failed to create file tree").WithContext("path", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.StorageError, "failed to write file tree").WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.StorageError, "failed to write file tree").WithContext("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.StorageError, "failed to replace file tree").WithContext("path", path)
	}
	return nil
}

// ReadFileTree loads a report written by WriteFileTree
func ReadFileTree(path string) (FileTreeReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageError, "failed to read file tree").WithContext("path", path)
	}

	var report FileTreeReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, errors.StorageError, fmt.Sprintf("invalid file tree %s", path))
	}
	return report, nil
}

// Folders returns the report's folder keys in lexical order
func (r FileTreeReport) Folders() []string {
	folders := make([]string, 0, len(r))
	for folder := range r {
		folders = append(folders, folder)
	}
	sort.Strings(folders)
	return folders
}

// Check stats every file in the report
func (r FileTreeReport) Check() TreeStatus {
	status := TreeStatus{Folders: len(r)}
	for _, folder := range r.Folders() {
		for _, file := range r[folder] {
			status.Files++
			info, err := os.Stat(file)
			if err != nil || info.IsDir() {
				status.Missing = append(status.Missing, file)
				continue
			}
			status.Present++
			status.Bytes += info.Size()
		}
	}
	return status
}
