package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/ragline/ragline/internal/jobs"
	"github.com/ragline/ragline/internal/log"
	"github.com/ragline/ragline/internal/vectorstore"
)

// defaultExtensions are the file types read when none are configured.
var defaultExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
}

// maxFileSize caps what is worth reading; bigger files are almost never
// prose.
const maxFileSize = 10 << 20

const readWorkers = 4

// DirectoryReader walks a directory tree and turns supported files into
// documents. Entries matched by the root's .gitignore and hidden
// directories are skipped, and file reads go through os.Root so symlinks
// cannot escape the tree.
type DirectoryReader struct {
	root       string
	extensions map[string]bool
	logger     log.Logger
}

// NewDirectoryReader reads files under root. extensions override the
// default .txt/.md/.html set.
func NewDirectoryReader(root string, extensions []string, logger log.Logger) (*DirectoryReader, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	extMap := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extMap[strings.ToLower(ext)] = true
	}
	if len(extMap) == 0 {
		for ext := range defaultExtensions {
			extMap[ext] = true
		}
	}

	return &DirectoryReader{root: abs, extensions: extMap, logger: logger}, nil
}

// Name identifies the source in pipeline stats and logs.
func (r *DirectoryReader) Name() string { return r.root }

// Read walks the tree and reads the collected files concurrently. A
// file that cannot be read or holds no text is logged and skipped rather
// than failing the whole walk.
func (r *DirectoryReader) Read(ctx context.Context) ([]vectorstore.Document, error) {
	root, err := os.OpenRoot(r.root)
	if err != nil {
		return nil, fmt.Errorf("opening root %q: %w", r.root, err)
	}
	defer func() { _ = root.Close() }()

	paths, err := r.collect()
	if err != nil {
		return nil, err
	}

	read := make([]jobs.Job[*vectorstore.Document], len(paths))
	for i, rel := range paths {
		read[i] = func(ctx context.Context) (*vectorstore.Document, error) {
			doc, err := r.readFile(root, rel)
			if err != nil {
				r.logger.Warn("skipping file", "path", rel, "error", err)
				return nil, nil
			}
			return doc, nil
		}
	}
	results, err := jobs.Run(ctx, read, jobs.WithWorkers(readWorkers))
	if err != nil {
		return nil, fmt.Errorf("reading files: %w", err)
	}

	docs := make([]vectorstore.Document, 0, len(results))
	for _, doc := range results {
		if doc != nil {
			docs = append(docs, *doc)
		}
	}
	r.logger.Debug("directory read", "root", r.root, "files", len(docs), "candidates", len(paths))
	return docs, nil
}

// collect walks the tree and returns the relative paths of files worth
// reading, in walk order.
func (r *DirectoryReader) collect() ([]string, error) {
	matcher := r.loadGitignore()

	var paths []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			r.logger.Warn("walk error", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil || rel == "." {
			return nil
		}

		if matcher != nil && matcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !r.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}

		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", r.root, err)
	}
	return paths, nil
}

// loadGitignore compiles the root's .gitignore when present. A malformed
// file is logged and treated as absent.
func (r *DirectoryReader) loadGitignore() *ignore.GitIgnore {
	path := filepath.Join(r.root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	matcher, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		r.logger.Warn("ignoring malformed .gitignore", "path", path, "error", err)
		return nil
	}
	return matcher
}

func (r *DirectoryReader) readFile(root *os.Root, rel string) (*vectorstore.Document, error) {
	raw, err := root.ReadFile(rel)
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}

	content := string(raw)
	ext := strings.ToLower(filepath.Ext(rel))

	meta := map[string]string{
		"source_type": "file",
		"file_name":   filepath.Base(rel),
		"file_ext":    ext,
	}

	if ext == ".html" || ext == ".htm" {
		title, text, err := extractHTML(content, &url.URL{Scheme: "file", Path: filepath.Join(r.root, rel)})
		if err != nil {
			return nil, fmt.Errorf("extracting text: %w", err)
		}
		if title != "" {
			meta["title"] = title
		}
		content = text
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("no text content")
	}

	id := filepath.ToSlash(rel)
	return &vectorstore.Document{
		ID:       id,
		Content:  content,
		Source:   id,
		Metadata: meta,
	}, nil
}
