package rag

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
)

// DirectoryLoader streams the parseable files under a directory tree as
// documents. Files without a registered parser are skipped; a parse failure
// on any file terminates the load.
type DirectoryLoader struct {
	root    string
	parser  *ParserManager
	meta    func(relPath string) map[string]any
	recurse bool
	logger  Logger
}

// DirectoryLoaderOption configures a DirectoryLoader.
type DirectoryLoaderOption func(*DirectoryLoader)

// WithMetadataFunc replaces the default per-file metadata. relPath is the
// file's path relative to the loader's root. The default metadata is
// {"path": relPath}.
func WithMetadataFunc(fn func(relPath string) map[string]any) DirectoryLoaderOption {
	return func(l *DirectoryLoader) {
		l.meta = fn
	}
}

// WithParserManager replaces the default parser manager.
func WithParserManager(pm *ParserManager) DirectoryLoaderOption {
	return func(l *DirectoryLoader) {
		l.parser = pm
	}
}

// WithoutRecursion restricts loading to the root directory itself.
func WithoutRecursion() DirectoryLoaderOption {
	return func(l *DirectoryLoader) {
		l.recurse = false
	}
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger Logger) DirectoryLoaderOption {
	return func(l *DirectoryLoader) {
		l.logger = logger
	}
}

// NewDirectoryLoader creates a loader over the given directory.
func NewDirectoryLoader(root string, opts ...DirectoryLoaderOption) *DirectoryLoader {
	l := &DirectoryLoader{
		root:    root,
		parser:  NewParserManager(),
		recurse: true,
		logger:  GlobalLogger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.meta == nil {
		l.meta = func(relPath string) map[string]any {
			return map[string]any{"path": relPath}
		}
	}
	return l
}

// Load walks the directory and emits one document per parseable file. Both
// channels close when the walk finishes or the context is cancelled.
func (l *DirectoryLoader) Load(ctx context.Context) (<-chan Document, <-chan error) {
	docs := make(chan Document)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if !l.recurse && path != l.root {
					return filepath.SkipDir
				}
				return nil
			}
			if !l.parser.Supports(path) {
				l.logger.Debug("skipping unsupported file", "path", path)
				return nil
			}

			doc, err := l.parser.Parse(path)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			relPath, err := filepath.Rel(l.root, path)
			if err != nil {
				relPath = path
			}
			doc.Metadata = l.meta(relPath)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case docs <- doc:
			}
			return nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return docs, errs
}
