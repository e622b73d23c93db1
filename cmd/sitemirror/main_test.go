package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"sitemirror/internal/config"
	"sitemirror/internal/errors"
	"sitemirror/internal/storage"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandMirrorsSite(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><a href="%s/root/file1.pdf">file</a></body></html>`, base)
	})
	mux.HandleFunc("/root/file1.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	out := t.TempDir()
	_, err := execute(t,
		"-s", srv.URL+"/root",
		"-a", srv.URL+"/root",
		"-o", out,
		"--retries", "0",
		"--log-level", "ERROR",
	)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, storage.Sanitize(srv.URL+"/root/file1.pdf")))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	report, err := storage.ReadFileTree(filepath.Join(out, "file_tree.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Check().Present)
}

func TestRootCommandRejectsMissingSeeds(t *testing.T) {
	_, err := execute(t, "-o", t.TempDir(), "--log-level", "ERROR")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestRootCommandRejectsUnknownRenderer(t *testing.T) {
	_, err := execute(t,
		"-s", "https://example.test/root",
		"-a", "https://example.test/root",
		"-o", t.TempDir(),
		"--renderer", "lynx",
		"--log-level", "ERROR",
	)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(errors.New(errors.ConfigurationError, "bad level")))
	assert.Equal(t, 1, exitCode(errors.New(errors.StorageError, "read-only output")))
	assert.Equal(t, 1, exitCode(os.ErrNotExist))
}

func TestTreeCommand(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "example.test", "a.pdf")
	missing := filepath.Join(dir, "example.test", "b.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(present), 0755))
	require.NoError(t, os.WriteFile(present, []byte("abc"), 0644))
	require.NoError(t, storage.WriteFileTree(filepath.Join(dir, "file_tree.json"), storage.FileTreeReport{
		filepath.Dir(present): {present, missing},
	}))

	out, err := execute(t, "tree", dir, "--missing")
	require.NoError(t, err)
	assert.Contains(t, out, "folders: 1")
	assert.Contains(t, out, "present: 1 (3 bytes)")
	assert.Contains(t, out, "missing: 1")
	assert.Contains(t, out, missing)

	_, err = execute(t, "tree", filepath.Join(dir, "nope.json"))
	assert.Error(t, err)
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sitemirror.yaml")

	out, err := execute(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfigWithViper(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Workers, cfg.Workers)
}
