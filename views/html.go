package views

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// htmlWriter keeps the first write error so page builders can emit markup
// without checking every call.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) rawf(format string, args ...any) {
	h.raw(fmt.Sprintf(format, args...))
}

// text writes s HTML-escaped. Safe inside element bodies and quoted attributes.
func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) csrfField(token string) {
	h.raw(`<input type="hidden" name="_csrf" value="`)
	h.text(token)
	h.raw(`">`)
}

// component adapts a page builder to templ.Component.
func component(build func(h *htmlWriter)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		build(h)
		return h.err
	})
}

// page wraps body in the admin layout.
func page(title string, body func(h *htmlWriter)) templ.Component {
	return component(func(h *htmlWriter) {
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<meta name="robots" content="noindex">`)
		h.raw(`<title>`)
		h.text(title)
		h.raw(`</title><style>` + adminCSS + `</style></head><body><main>`)
		body(h)
		h.raw(`</main></body></html>`)
	})
}

const adminCSS = `body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f7;color:#1d2327}
main{max-width:960px;margin:0 auto;padding:1.5rem}
nav a{margin-right:1rem}
table{width:100%;border-collapse:collapse;background:#fff}
th,td{text-align:left;padding:.5rem;border-bottom:1px solid #dcdcde}
label{display:block;margin:.75rem 0 .25rem;font-weight:600}
input[type=text],input[type=password],select,textarea{width:100%;box-sizing:border-box;padding:.4rem}
textarea{min-height:12rem}
.msg{background:#fff;border-left:4px solid #72aee6;padding:.5rem 1rem}
.error{border-left-color:#d63638}
.editor{display:grid;grid-template-columns:1fr 280px;gap:1.5rem}
.pie-box{background:#fff;border:1px solid #c3c4c7;padding:1rem}
.pie-box label{font-weight:normal}
.media{display:grid;grid-template-columns:repeat(auto-fill,minmax(160px,1fr));gap:1rem}
.media figure{margin:0;background:#fff;padding:.5rem}
.media img{max-width:100%;height:auto}`
