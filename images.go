package postxfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"

	"github.com/eringen/postxfer/transfer"
)

const (
	maxImageWidth = 800
	jpegQuality   = 80
	uploadsSubdir = "uploads"
)

// processImage decodes an uploaded image, scales it down to maxImageWidth
// and re-encodes it as JPEG.
func processImage(src io.Reader) ([]byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if w, h := bounds.Dx(), bounds.Dy(); w > maxImageWidth {
		dst := image.NewRGBA(image.Rect(0, 0, maxImageWidth, h*maxImageWidth/w))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func fingerprint(data []byte) (int64, string) {
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:])
}

func (a *App) handleImageUpload(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return c.String(http.StatusBadRequest, "No image file provided")
	}
	if file.Size > a.Config.MaxImageBytes {
		return c.String(http.StatusBadRequest, "File too large (max "+humanize.IBytes(uint64(a.Config.MaxImageBytes))+")")
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	data, err := processImage(src)
	if err != nil {
		return c.String(http.StatusBadRequest, "Invalid image: "+err.Error())
	}

	ctx := c.Request().Context()
	size, hash := fingerprint(data)
	if existing, ok, err := a.Store.FindMedia(ctx, size, hash); err != nil {
		return err
	} else if ok {
		return a.renderImageList(c, "Already in the library as "+existing.Filename)
	}

	name := strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename)) + ".jpg"
	m, err := a.Store.SaveMedia(ctx, data, name)
	if err != nil {
		return err
	}
	c.Logger().Infof("uploaded media %d (%s, %s)", m.ID, m.Filename, humanize.Bytes(uint64(m.Size)))
	return a.renderImageList(c, "")
}

func (a *App) handleImageDelete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.String(http.StatusBadRequest, "Invalid media id")
	}
	if err := a.Store.DeleteMedia(c.Request().Context(), id); err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return err
	}
	return a.renderImageList(c, "")
}

func (a *App) handleImageList(c echo.Context) error {
	return a.renderImageList(c, "")
}

func (a *App) renderImageList(c echo.Context, msg string) error {
	media, err := a.Store.ListMedia(c.Request().Context())
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminImages(media, msg, csrfToken(c)))
}
