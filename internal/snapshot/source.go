package snapshot

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Compressed variants tried, in order, when a plain file is absent.
var compressedSuffixes = []string{".gz", ".zst"}

// Entry describes one artifact of a snapshot.
type Entry struct {
	// Name is the logical name ("functions.jsonl", "decomp/401000_main.c")
	Name string `json:"name"`
	// Stored is the name on disk, with a compression suffix when compressed
	Stored string `json:"stored"`
	// Size is the stored size in bytes
	Size int64 `json:"size"`
}

// source abstracts a snapshot directory or zip archive.
type source interface {
	// open returns the decompressed content of a logical file; found is
	// false when neither the plain nor a compressed variant exists.
	open(name string) (rc io.ReadCloser, found bool, err error)
	entries() []Entry
	location() string
	Close() error
}

// openSource opens a snapshot directory or .zip archive.
func openSource(p string) (source, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return newDirSource(p)
	}
	if strings.EqualFold(filepath.Ext(p), ".zip") {
		return newZipSource(p)
	}
	return nil, fmt.Errorf("%s is neither a directory nor a .zip archive", p)
}

// storedFiles maps logical names to stored names and sizes.
type storedFiles map[string]Entry

func (s storedFiles) add(stored string, size int64) {
	logical := stored
	for _, suffix := range compressedSuffixes {
		if strings.HasSuffix(stored, suffix) {
			logical = strings.TrimSuffix(stored, suffix)
			break
		}
	}
	// a plain file wins over a compressed one of the same name
	if prev, ok := s[logical]; ok && prev.Stored == logical {
		return
	}
	s[logical] = Entry{Name: logical, Stored: stored, Size: size}
}

func (s storedFiles) sorted() []Entry {
	out := make([]Entry, 0, len(s))
	for _, e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// decompress wraps rc according to the stored name's suffix.
func decompress(stored string, rc io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(stored, ".gz"):
		zr, err := gzip.NewReader(bufio.NewReader(rc))
		if err != nil {
			rc.Close()
			return nil, err
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case strings.HasSuffix(stored, ".zst"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, err
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zstdCloser{zr}, rc}}, nil
	default:
		return rc, nil
	}
}

// stackedReader closes a decompressor and the stream beneath it.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// dirSource reads a snapshot directory.
type dirSource struct {
	root  string
	files storedFiles
}

func newDirSource(root string) (*dirSource, error) {
	files := storedFiles{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// snapshot artifacts live at the root and under decomp/
			if p != root && d.Name() != "decomp" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files.add(filepath.ToSlash(rel), info.Size())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dirSource{root: root, files: files}, nil
}

func (d *dirSource) open(name string) (io.ReadCloser, bool, error) {
	e, ok := d.files[name]
	if !ok {
		return nil, false, nil
	}
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(e.Stored)))
	if err != nil {
		return nil, true, err
	}
	rc, err := decompress(e.Stored, f)
	return rc, true, err
}

func (d *dirSource) entries() []Entry { return d.files.sorted() }
func (d *dirSource) location() string { return d.root }
func (d *dirSource) Close() error     { return nil }

// zipSource reads a snapshot archive in place. Archives produced by
// zipping the snapshot directory carry one top-level folder, which is
// stripped from entry names.
type zipSource struct {
	path   string
	rc     *zip.ReadCloser
	byName map[string]*zip.File
	files  storedFiles
}

func newZipSource(p string) (*zipSource, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, err
	}

	for _, f := range rc.File {
		if err := checkEntryName(f.Name); err != nil {
			rc.Close()
			return nil, err
		}
	}

	prefix := archivePrefix(rc.File)
	z := &zipSource{path: p, rc: rc, byName: map[string]*zip.File{}, files: storedFiles{}}
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		stored := strings.TrimPrefix(f.Name, prefix)
		z.byName[stored] = f
		z.files.add(stored, int64(f.UncompressedSize64))
	}
	return z, nil
}

// checkEntryName rejects absolute and parent-escaping entry names.
func checkEntryName(name string) error {
	if name == "" {
		return nil
	}
	clean := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(clean, "/") || (len(clean) >= 2 && clean[1] == ':') {
		return fmt.Errorf("unsafe absolute path in archive entry: %s", name)
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return fmt.Errorf("unsafe relative path in archive entry: %s", name)
		}
	}
	return nil
}

// archivePrefix returns the folder holding meta.json, "" when it sits at
// the archive root.
func archivePrefix(files []*zip.File) string {
	best := ""
	found := false
	for _, f := range files {
		base := path.Base(f.Name)
		if base != fileMeta && base != fileMeta+".gz" && base != fileMeta+".zst" {
			continue
		}
		dir := path.Dir(f.Name)
		prefix := ""
		if dir != "." {
			prefix = dir + "/"
		}
		if !found || len(prefix) < len(best) {
			best, found = prefix, true
		}
	}
	return best
}

func (z *zipSource) open(name string) (io.ReadCloser, bool, error) {
	e, ok := z.files[name]
	if !ok {
		return nil, false, nil
	}
	rc, err := z.byName[e.Stored].Open()
	if err != nil {
		return nil, true, err
	}
	rc, err = decompress(e.Stored, rc)
	return rc, true, err
}

func (z *zipSource) entries() []Entry { return z.files.sorted() }
func (z *zipSource) location() string { return z.path }
func (z *zipSource) Close() error     { return z.rc.Close() }
