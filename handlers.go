package postxfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/eringen/postxfer/transfer"
)

type jsonMessage struct {
	Message string `json:"message"`
}

type jsonResult struct {
	Success bool        `json:"success"`
	Data    jsonMessage `json:"data"`
}

func jsonSuccess(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, jsonResult{Success: true, Data: jsonMessage{Message: msg}})
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, jsonResult{Success: false, Data: jsonMessage{Message: msg}})
}

var (
	errNoSession = fmt.Errorf("%w: no admin session", transfer.ErrUnauthorized)
	errBadToken  = fmt.Errorf("%w: invalid action token", transfer.ErrUnauthorized)
	errBadCSRF   = fmt.Errorf("%w: csrf token mismatch", transfer.ErrUnauthorized)
)

// transferStatus maps a transfer error to a response code and a message
// that is safe to show to the client.
func transferStatus(err error) (int, string) {
	var we *transfer.WriteError
	switch {
	case errors.Is(err, errNoSession):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, transfer.ErrUnauthorized):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, transfer.ErrParse):
		return http.StatusBadRequest, "Invalid JSON file"
	case errors.Is(err, transfer.ErrSchema):
		return http.StatusBadRequest, "Invalid import data: post_title is required"
	case errors.Is(err, transfer.ErrUpload):
		return http.StatusBadRequest, "File upload failed"
	case errors.Is(err, transfer.ErrNotFound):
		return http.StatusNotFound, "Post not found"
	case errors.As(err, &we):
		return http.StatusInternalServerError, "Import failed while writing " + we.Step
	default:
		return http.StatusInternalServerError, "Import failed"
	}
}

func transferError(c echo.Context, err error) error {
	code, msg := transferStatus(err)
	return jsonError(c, code, msg)
}

func (a *App) handleExport(c echo.Context) error {
	if !isAdmin(c) {
		return transferError(c, errNoSession)
	}
	postID, ok := parseID(c.FormValue("post_id"))
	if !ok {
		return jsonError(c, http.StatusBadRequest, "Missing post_id")
	}
	if !a.VerifyActionToken(c.FormValue("nonce"), actionExport, postID) {
		return transferError(c, errBadToken)
	}

	payload, err := a.exporter.Export(c.Request().Context(), postID, a.Config.URL)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, "Post not found")
		}
		c.Logger().Errorf("export post %d: %v", postID, err)
		return jsonError(c, http.StatusInternalServerError, "Export failed")
	}

	var buf bytes.Buffer
	if err := transfer.EncodePayload(&buf, payload); err != nil {
		c.Logger().Errorf("encode export of post %d: %v", postID, err)
		return jsonError(c, http.StatusInternalServerError, "Export failed")
	}

	var title string
	if payload.PostTitle != nil {
		title = *payload.PostTitle
	}
	filename := transfer.ExportFilename(title, postID, a.now())
	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	h.Set(echo.HeaderContentLength, strconv.Itoa(buf.Len()))
	c.Logger().Infof("exported post %d as %s (%s)", postID, filename, humanize.Bytes(uint64(buf.Len())))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, buf.Bytes())
}

func (a *App) handleImport(c echo.Context) error {
	postID, ok := parseID(c.FormValue("post_id"))
	if !ok {
		return jsonError(c, http.StatusBadRequest, "Missing post_id")
	}
	if !isAdmin(c) {
		return transferError(c, errNoSession)
	}
	if !a.VerifyActionToken(c.FormValue("import_post_nonce"), actionImport, postID) {
		return transferError(c, errBadToken)
	}

	data, err := a.readImportFile(c)
	if err != nil {
		c.Logger().Warnf("import post %d: %v", postID, err)
		return transferError(c, err)
	}

	res, err := a.importer.Import(c.Request().Context(), transfer.Request{
		PostID:       postID,
		Data:         data,
		SiteURL:      a.Config.URL,
		ReplaceURLs:  formBool(c.FormValue("replace_url")),
		ImportImages: formBool(c.FormValue("import_images")),
	})
	if err != nil {
		code, msg := transferStatus(err)
		if code >= http.StatusInternalServerError {
			c.Logger().Errorf("import post %d: %v", postID, err)
		} else {
			c.Logger().Warnf("import post %d rejected: %v", postID, err)
		}
		return jsonError(c, code, msg)
	}

	imported, reused, failed := res.ImageCounts()
	c.Logger().Infof("import %s into post %d done: %d images imported, %d reused, %d failed",
		res.RunID, postID, imported, reused, failed)
	return jsonSuccess(c, "Import completed successfully")
}

// readImportFile returns the uploaded import file, bounded by MaxImportBytes.
func (a *App) readImportFile(c echo.Context) ([]byte, error) {
	fh, err := c.FormFile("import_file")
	if err != nil {
		return nil, errors.Join(transfer.ErrUpload, err)
	}
	if fh.Size > a.Config.MaxImportBytes {
		return nil, errors.Join(transfer.ErrUpload, errors.New("file exceeds "+humanize.IBytes(uint64(a.Config.MaxImportBytes))))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Join(transfer.ErrUpload, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, a.Config.MaxImportBytes+1))
	if err != nil {
		return nil, errors.Join(transfer.ErrUpload, err)
	}
	if int64(len(data)) > a.Config.MaxImportBytes {
		return nil, errors.Join(transfer.ErrUpload, errors.New("file too large"))
	}
	return data, nil
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := err.(*echo.HTTPError)
	if ok && he.Code == http.StatusNotFound {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
		_ = RenderStatus(c, code, a.Views.ServerError())
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
