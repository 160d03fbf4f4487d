// Package datasource provides the byte inputs the source reads from: files
// on an afero filesystem and live SRT streams spooled into memory.
package datasource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/spf13/afero"

	"github.com/zsiec/mediaplay/internal/source"
)

// File is a DataSource over one file. Its tags, if any, are read by
// Metadata.
type File struct {
	f    afero.File
	path string
	size int64
}

// OpenFile opens path on fsys. A nil fsys means the OS filesystem.
func OpenFile(fsys afero.Fs, path string) (*File, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("datasource: stat %s: %w", path, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("datasource: %s is a directory", path)
	}
	return &File{f: f, path: path, size: st.Size()}, nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) { return f.f.ReadAt(p, off) }
func (f *File) Size() int64                             { return f.size }
func (f *File) Close() error                            { return f.f.Close() }

// Path returns the name the file was opened with.
func (f *File) Path() string { return f.path }

// Metadata reads ID3, MP4 or FLAC tags.
func (f *File) Metadata() (source.Metadata, error) {
	m, err := tag.ReadFrom(io.NewSectionReader(f.f, 0, f.size))
	if err != nil {
		return source.Metadata{}, fmt.Errorf("datasource: tags of %s: %w", f.path, err)
	}
	return source.Metadata{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Genre:  m.Genre(),
		Year:   m.Year(),
	}, nil
}

// Options configures Open.
type Options struct {
	// Fs holds local files. Nil means the OS filesystem.
	Fs  afero.Fs
	SRT SRTOptions
}

// Open returns a live source for srt:// URIs and a file otherwise.
func Open(ctx context.Context, uri string, opts Options, log *slog.Logger) (source.DataSource, error) {
	if strings.HasPrefix(uri, "srt://") {
		return DialSRT(ctx, uri, opts.SRT, log)
	}
	return OpenFile(opts.Fs, strings.TrimPrefix(uri, "file://"))
}

// SRTOptions tunes DialSRT. Zero fields take defaults.
type SRTOptions struct {
	Latency     time.Duration
	DialTimeout time.Duration
	// MaxCache bounds the bytes kept in memory.
	MaxCache int64
}
