package router

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dguik/discode/internal/chat"
)

// MaxAttachmentBytes caps downloaded attachment size.
const MaxAttachmentBytes = 50 << 20

// FilesSubdir is where attachments land under the project path.
const FilesSubdir = ".discode/files"

// downloadAttachments fetches message attachments into the project's
// files directory and returns the absolute local paths. Oversize or
// failing attachments are skipped with a warning; the message itself
// still goes through.
func (r *Router) downloadAttachments(projectPath string, attachments []chat.Attachment) []string {
	dir := filepath.Join(projectPath, FilesSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("create files dir failed", "dir", dir, "error", err)
		return nil
	}

	var paths []string
	for _, att := range attachments {
		if att.Size > MaxAttachmentBytes {
			r.logger.Warn("attachment exceeds size cap", "file", att.FileName, "size", att.Size)
			continue
		}
		path, err := r.downloadOne(dir, att)
		if err != nil {
			r.logger.Warn("attachment download failed", "file", att.FileName, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (r *Router) downloadOne(dir string, att chat.Attachment) (string, error) {
	resp, err := r.httpClient.Get(att.URL)
	if err != nil {
		return "", fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}

	name := sanitizeFileName(att.FileName)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, fmt.Sprintf("%d-%s", time.Now().UnixMilli(), name))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create attachment file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(resp.Body, MaxAttachmentBytes+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if n > MaxAttachmentBytes {
		os.Remove(path)
		return "", fmt.Errorf("attachment larger than %d bytes", MaxAttachmentBytes)
	}
	return path, nil
}

// sanitizeFileName keeps only the base name and replaces path-hostile
// characters.
func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
