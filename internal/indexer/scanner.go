package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skipDirs are build/VCS/dependency directories excluded from scanning.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".idea":        true,
	".vscode":      true,
	".wrangler":    true,
}

// docExtensions are the text-document types eligible for indexing.
var docExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".rst":      true,
	".adoc":     true,
}

// sourceFile is one eligible document found under the project root.
type sourceFile struct {
	// Ref is the slash-separated path relative to the project root,
	// used as the stable source_ref.
	Ref     string
	AbsPath string
}

// scanDocuments enumerates eligible text documents under root. Files
// larger than maxBytes are skipped.
func scanDocuments(root string, maxBytes int64) ([]sourceFile, error) {
	var files []sourceFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !docExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxBytes {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, sourceFile{
			Ref:     filepath.ToSlash(rel),
			AbsPath: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: scan %s: %w", root, err)
	}
	return files, nil
}

// readAndHash loads a file and returns its content plus content digest.
func readAndHash(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("indexer: read %s: %w", path, err)
	}
	return string(data), hashContent(string(data)), nil
}

// hashContent computes the change-detection digest for a source.
func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
