package postxfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/eringen/postxfer/transfer"
)

const mediaColumns = `id, filename, original_name, mime_type, width, height, size, hash, uploaded_at`

func (s *Store) scanMedia(row rowScanner) (transfer.MediaAsset, error) {
	var m transfer.MediaAsset
	if err := row.Scan(&m.ID, &m.Filename, &m.OriginalName, &m.MimeType, &m.Width, &m.Height,
		&m.Size, &m.Hash, &m.UploadedAt); err != nil {
		return transfer.MediaAsset{}, err
	}
	m.URL = s.mediaURL(m.Filename)
	return m, nil
}

func (s *Store) mediaURL(filename string) string {
	return strings.TrimRight(s.media.BaseURL, "/") + "/" + url.PathEscape(filename)
}

// ListMedia returns the whole media library, newest first.
func (s *Store) ListMedia(ctx context.Context) ([]transfer.MediaAsset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM media ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []transfer.MediaAsset
	for rows.Next() {
		m, err := s.scanMedia(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, m)
	}
	return assets, rows.Err()
}

// GetMedia returns one asset. A missing asset yields an error wrapping
// transfer.ErrNotFound.
func (s *Store) GetMedia(ctx context.Context, id int64) (transfer.MediaAsset, error) {
	m, err := s.scanMedia(s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.MediaAsset{}, fmt.Errorf("media %d: %w", id, transfer.ErrNotFound)
	}
	return m, err
}

// FindMedia returns the asset with the given fingerprint, if any.
func (s *Store) FindMedia(ctx context.Context, size int64, hash string) (transfer.MediaAsset, bool, error) {
	m, err := s.scanMedia(s.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE size = ? AND hash = ? ORDER BY id LIMIT 1`, size, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.MediaAsset{}, false, nil
	}
	if err != nil {
		return transfer.MediaAsset{}, false, err
	}
	return m, true, nil
}

// MediaURL returns the public URL of an asset.
func (s *Store) MediaURL(ctx context.Context, id int64) (string, error) {
	m, err := s.GetMedia(ctx, id)
	if err != nil {
		return "", err
	}
	return m.URL, nil
}

// SideloadMedia moves the image file at path into the media library under a
// unique name derived from name and registers it. The file must decode as
// an image.
func (s *Store) SideloadMedia(ctx context.Context, path, name string) (transfer.MediaAsset, error) {
	size, hash, err := transfer.FingerprintFile(path)
	if err != nil {
		return transfer.MediaAsset{}, err
	}
	mimeType, width, height, err := probeImage(path)
	if err != nil {
		return transfer.MediaAsset{}, err
	}
	filename, err := s.uniqueFilename(ctx, mediaFilename(name, mimeType))
	if err != nil {
		return transfer.MediaAsset{}, err
	}
	dest := filepath.Join(s.media.Dir, filename)
	if err := moveFile(path, dest); err != nil {
		return transfer.MediaAsset{}, fmt.Errorf("store %s: %w", filename, err)
	}
	_ = os.Chmod(dest, 0o644)

	m := transfer.MediaAsset{
		Filename:     filename,
		OriginalName: name,
		MimeType:     mimeType,
		Width:        width,
		Height:       height,
		Size:         size,
		Hash:         hash,
		URL:          s.mediaURL(filename),
		UploadedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO media (filename, original_name, mime_type, width, height, size, hash, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Filename, m.OriginalName, m.MimeType, m.Width, m.Height, m.Size, m.Hash, m.UploadedAt)
	if err != nil {
		_ = os.Remove(dest)
		return transfer.MediaAsset{}, err
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return transfer.MediaAsset{}, err
	}
	return m, nil
}

// SaveMedia stores data as a new asset named name.
func (s *Store) SaveMedia(ctx context.Context, data []byte, name string) (transfer.MediaAsset, error) {
	tmp, err := os.CreateTemp(s.media.Dir, ".upload-*")
	if err != nil {
		return transfer.MediaAsset{}, err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return transfer.MediaAsset{}, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return transfer.MediaAsset{}, err
	}
	m, err := s.SideloadMedia(ctx, tmpPath, name)
	if err != nil {
		_ = os.Remove(tmpPath)
	}
	return m, err
}

// DeleteMedia removes an asset and its file. Records using it as featured
// image lose their featured image.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	m, err := s.GetMedia(ctx, id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET featured_media_id = 0 WHERE featured_media_id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.media.Dir, m.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// probeImage sniffs the MIME type and reads the dimensions of an image file.
func probeImage(path string) (mimeType string, width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", 0, 0, err
	}
	mimeType = http.DetectContentType(head[:n])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return "", 0, 0, fmt.Errorf("not an image: %w", err)
	}
	return mimeType, cfg.Width, cfg.Height, nil
}

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// mediaFilename derives a URL-safe file name from an original name. The
// extension follows the sniffed MIME type when it is a known image type.
func mediaFilename(name, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := transfer.Slugify(strings.TrimSuffix(name, filepath.Ext(name)))
	if base == "" {
		base = "image"
	}
	if known, ok := mimeExtensions[mimeType]; ok && !(known == ".jpg" && ext == ".jpeg") {
		ext = known
	}
	return base + ext
}

// uniqueFilename appends a counter if filename is already taken on disk or
// in the database.
func (s *Store) uniqueFilename(ctx context.Context, filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	candidate := filename
	for counter := 2; ; counter++ {
		_, statErr := os.Stat(filepath.Join(s.media.Dir, candidate))
		var taken int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE filename = ?`, candidate).Scan(&taken); err != nil {
			return "", err
		}
		if statErr != nil && taken == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d%s", base, counter, ext)
	}
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
