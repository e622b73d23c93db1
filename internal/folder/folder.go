// Package folder imports files from a shared cloud folder into the mirror.
package folder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"sitemirror/internal/errors"
	"sitemirror/internal/logger"
	"sitemirror/internal/state"
	"sitemirror/internal/storage"
)

// Entry is a file listed in a cloud folder
type Entry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Lister enumerates cloud folders
type Lister interface {
	List(ctx context.Context, folderID string) ([]Entry, error)
	// FileURL returns the URL a listed file is downloaded from
	FileURL(folderID string, entry Entry) string
}

// Getter performs a GET request
type Getter interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// HTTPLister reads folder listings from a JSON endpoint:
// GET <endpoint>/folders/<id> answers [{"name": ..., "id": ...}] and files
// are served from <endpoint>/folders/<id>/files/<fileID>.
type HTTPLister struct {
	endpoint string
	client   Getter
}

// NewHTTPLister creates a new HTTPLister
func NewHTTPLister(endpoint string, client Getter) *HTTPLister {
	return &HTTPLister{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (l *HTTPLister) folderURL(folderID string) string {
	return l.endpoint + "/folders/" + url.PathEscape(folderID)
}

func (l *HTTPLister) List(ctx context.Context, folderID string) ([]Entry, error) {
	listURL := l.folderURL(folderID)
	resp, err := l.client.Get(ctx, listURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "failed to list folder").WithContext("folder", folderID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.NetworkError, "failed to list folder").
			WithContext("folder", folderID).
			WithContext("statusCode", resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, errors.CrawlerError, "invalid folder listing").WithContext("folder", folderID)
	}
	return entries, nil
}

func (l *HTTPLister) FileURL(folderID string, entry Entry) string {
	return l.folderURL(folderID) + "/files/" + url.PathEscape(entry.ID)
}

// Import registers a folder's entries in the crawl state under the folder
// namespace of the mirror and returns the files that were newly added.
// Entries without a name or id, or whose name cannot be stored, are logged
// and left out.
func Import(st *state.CrawlState, store *storage.Storage, lister Lister, folderID string, entries []Entry, log *logger.Logger) []state.File {
	var added []state.File
	for _, entry := range entries {
		if entry.Name == "" || entry.ID == "" {
			log.Warn("Ignoring incomplete folder entry", map[string]interface{}{
				"folder": folderID,
				"name":   entry.Name,
				"id":     entry.ID,
			})
			continue
		}

		localPath, err := store.FolderPath(folderID, entry.Name)
		if err != nil {
			log.Error("Cannot store folder entry", map[string]interface{}{
				"folder": folderID,
				"name":   entry.Name,
				"error":  err,
			})
			continue
		}

		fileURL := lister.FileURL(folderID, entry)
		owner, ok := st.AddFile(fileURL, localPath)
		if !ok {
			if owner != fileURL {
				log.Warn("Folder entry shares a local path, skipping", map[string]interface{}{
					"folder": folderID,
					"name":   entry.Name,
					"id":     entry.ID,
					"owner":  owner,
				})
				st.AddSkipped(fileURL)
			}
			continue
		}
		added = append(added, state.File{URL: fileURL, LocalPath: localPath})
	}

	log.Info("Imported folder", map[string]interface{}{
		"folder":  folderID,
		"entries": len(entries),
		"added":   len(added),
	})
	return added
}
