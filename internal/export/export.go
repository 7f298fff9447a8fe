// Package export writes gallery photos out of the process, either as
// individual PNG files or as a single zip archive.
package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/photobooth/internal/debug"
	"github.com/cjeanneret/photobooth/internal/logic/gallery"
)

// Mode selects how ExportAll delivers several photos.
type Mode string

const (
	// ModeSequence saves each photo as its own file.
	ModeSequence Mode = "sequence"
	// ModeArchive bundles all photos into one zip file.
	ModeArchive Mode = "archive"
)

// ParseMode accepts "sequence", "archive" or "" (sequence).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequence:
		return ModeSequence, nil
	case ModeArchive:
		return ModeArchive, nil
	}
	return "", fmt.Errorf("unknown export mode %q (want sequence or archive)", s)
}

// Exporter delivers photos to their destination.
type Exporter interface {
	// ExportOne saves a single photo and returns where it went.
	ExportOne(ctx context.Context, p *gallery.Photo) (string, error)
	// ExportAll saves every photo. An empty slice is a no-op.
	ExportAll(ctx context.Context, photos []*gallery.Photo) ([]string, error)
}

// FileName is the download name of a photo: photo_<unix-millis>.png.
func FileName(p *gallery.Photo) string {
	return "photo_" + strconv.FormatInt(p.CapturedAt().UnixMilli(), 10) + ".png"
}

// ArchiveName is the download name of a bundle created at t.
func ArchiveName(t time.Time) string {
	return "photos_" + strconv.FormatInt(t.UnixMilli(), 10) + ".zip"
}

// WriteArchive streams photos as a zip archive. Entries use FileName,
// deduplicated when two photos share a millisecond.
func WriteArchive(w io.Writer, photos []*gallery.Photo) error {
	zw := zip.NewWriter(w)
	used := make(map[string]bool, len(photos))
	for _, p := range photos {
		name := uniqueName(FileName(p), func(n string) bool { return used[n] })
		used[name] = true

		// PNG is already deflated
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: p.CapturedAt(),
		})
		if err != nil {
			return fmt.Errorf("archive entry %s: %w", name, err)
		}
		if _, err := f.Write(p.PNG()); err != nil {
			return fmt.Errorf("archive entry %s: %w", name, err)
		}
	}
	return zw.Close()
}

// uniqueName appends _1, _2... before the extension while taken reports a collision.
func uniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		if !taken(candidate) {
			return candidate
		}
	}
}

// DirExporter writes exports into a directory.
type DirExporter struct {
	Dir  string
	Mode Mode
	// Now stamps archive names. Defaults to time.Now.
	Now func() time.Time
}

// NewDirExporter creates an exporter writing into dir.
func NewDirExporter(dir string, mode Mode) *DirExporter {
	return &DirExporter{Dir: dir, Mode: mode, Now: time.Now}
}

func (d *DirExporter) ExportOne(ctx context.Context, p *gallery.Photo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("export dir: %w", err)
	}
	path, err := d.create(FileName(p), func(w io.Writer) error {
		_, err := w.Write(p.PNG())
		return err
	})
	if err != nil {
		return "", err
	}
	debug.Verbose("Exported %s -> %s", p.ID(), path)
	return path, nil
}

func (d *DirExporter) ExportAll(ctx context.Context, photos []*gallery.Photo) ([]string, error) {
	if len(photos) == 0 {
		return nil, nil
	}
	if d.Mode == ModeArchive {
		path, err := d.exportArchive(ctx, photos)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	paths := make([]string, 0, len(photos))
	for _, p := range photos {
		path, err := d.ExportOne(ctx, p)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	debug.Info("Exported %d photos to %s", len(paths), d.Dir)
	return paths, nil
}

func (d *DirExporter) exportArchive(ctx context.Context, photos []*gallery.Photo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("export dir: %w", err)
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	path, err := d.create(ArchiveName(now()), func(w io.Writer) error {
		return WriteArchive(w, photos)
	})
	if err != nil {
		return "", err
	}
	debug.Info("Exported %d photos to %s", len(photos), path)
	return path, nil
}

// create opens a new file named after name (suffixed on collision), fills it
// with write and removes it again if write fails.
func (d *DirExporter) create(name string, write func(io.Writer) error) (string, error) {
	var f *os.File
	var path string
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			ext := filepath.Ext(name)
			candidate = strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(i) + ext
		}
		path = filepath.Join(d.Dir, candidate)
		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}
