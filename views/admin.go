package views

import (
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/eringen/postxfer"
	"github.com/eringen/postxfer/transfer"
)

// Funcs returns the default admin templates.
func Funcs() postxfer.ViewFuncs {
	return postxfer.ViewFuncs{
		AdminLogin:     AdminLogin,
		AdminDashboard: AdminDashboard,
		AdminPost:      AdminPost,
		AdminImages:    AdminImages,
		NotFound:       NotFound,
		ServerError:    ServerError,
	}
}

func adminNav(h *htmlWriter, csrfToken string) {
	h.raw(`<nav><a href="/admin/">Records</a><a href="/admin/post/new/">New record</a><a href="/admin/images/">Media</a>`)
	h.raw(`<form method="post" action="/admin/logout/" style="display:inline">`)
	h.csrfField(csrfToken)
	h.raw(`<button type="submit">Log out</button></form></nav>`)
}

// AdminLogin renders the password form.
func AdminLogin(showError bool, csrfToken string) templ.Component {
	return page("Log in", func(h *htmlWriter) {
		h.raw(`<h1>Log in</h1>`)
		if showError {
			h.raw(`<p class="msg error">Wrong password.</p>`)
		}
		h.raw(`<form method="post" action="/admin/login/">`)
		h.csrfField(csrfToken)
		h.raw(`<label for="password">Password</label><input type="password" id="password" name="password" autofocus>`)
		h.raw(`<p><button type="submit">Log in</button></p></form>`)
	})
}

// AdminDashboard lists every record.
func AdminDashboard(posts []transfer.Post, message string, csrfToken string) templ.Component {
	return page("Records", func(h *htmlWriter) {
		adminNav(h, csrfToken)
		h.raw(`<h1>Records</h1>`)
		if message != "" {
			h.raw(`<p class="msg">`)
			h.text(message)
			h.raw(`</p>`)
		}
		if len(posts) == 0 {
			h.raw(`<p>No records yet.</p>`)
			return
		}
		h.raw(`<table><thead><tr><th>Title</th><th>Status</th><th>Type</th><th>Date</th></tr></thead><tbody>`)
		for _, p := range posts {
			title := p.Title
			if title == "" {
				title = "(no title)"
			}
			h.rawf(`<tr><td><a href="/admin/post/%d/">`, p.ID)
			h.text(title)
			h.raw(`</a></td><td>`)
			h.text(p.Status)
			h.raw(`</td><td>`)
			h.text(p.Type)
			h.raw(`</td><td>`)
			h.text(p.Date)
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)
	})
}

func termNames(terms []transfer.Term) string {
	names := make([]string, 0, len(terms))
	for _, t := range terms {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

func textField(h *htmlWriter, name, label, value string) {
	h.rawf(`<label for="%s">`, name)
	h.text(label)
	h.rawf(`</label><input type="text" id="%s" name="%s" value="`, name, name)
	h.text(value)
	h.raw(`">`)
}

func openClosedField(h *htmlWriter, name, label, value string) {
	h.rawf(`<label><input type="checkbox" name="%s" value="open"`, name)
	if value == "open" {
		h.raw(` checked`)
	}
	h.raw(`> `)
	h.text(label)
	h.raw(`</label>`)
}

var statuses = []string{
	transfer.StatusDraft,
	transfer.StatusPending,
	transfer.StatusPublish,
	transfer.StatusPrivate,
	transfer.StatusFuture,
}

// AdminPost renders the record editor with its export/import box.
func AdminPost(post transfer.Post, terms map[string][]transfer.Term, box postxfer.TransferBox, csrfToken string) templ.Component {
	title := post.Title
	if post.ID == 0 {
		title = "New record"
	}
	return page(title, func(h *htmlWriter) {
		adminNav(h, csrfToken)
		h.raw(`<h1>`)
		h.text(title)
		h.raw(`</h1><div class="editor"><form method="post" action="/admin/save/">`)
		h.csrfField(csrfToken)
		if post.ID != 0 {
			h.rawf(`<input type="hidden" name="id" value="%d">`, post.ID)
		}
		textField(h, "title", "Title", post.Title)
		textField(h, "slug", "Slug", post.Slug)
		h.raw(`<label for="content">Content</label><textarea id="content" name="content">`)
		h.text(post.Content)
		h.raw(`</textarea><label for="excerpt">Excerpt</label><textarea id="excerpt" name="excerpt" style="min-height:4rem">`)
		h.text(post.Excerpt)
		h.raw(`</textarea><label for="status">Status</label><select id="status" name="status">`)
		for _, s := range statuses {
			h.rawf(`<option value="%s"`, s)
			if s == post.Status {
				h.raw(` selected`)
			}
			h.rawf(`>%s</option>`, s)
		}
		h.raw(`</select>`)
		textField(h, "date", "Date (YYYY-MM-DD HH:MM:SS)", post.Date)
		textField(h, "categories", "Categories (comma separated)", termNames(terms["category"]))
		textField(h, "tags", "Tags (comma separated)", termNames(terms["post_tag"]))
		textField(h, "password", "Password", post.Password)
		textField(h, "menu_order", "Menu order", strconv.Itoa(post.MenuOrder))
		openClosedField(h, "comment_status", "Allow comments", post.CommentStatus)
		openClosedField(h, "ping_status", "Allow pingbacks", post.PingStatus)
		h.raw(`<p><button type="submit">Save</button></p></form><aside>`)
		if box.PostID != 0 {
			transferBox(h, box, csrfToken)
		}
		h.raw(`</aside></div>`)
	})
}

// transferBox renders the export button and the import file picker. Picking
// a file uploads it right away and reloads the page on success.
func transferBox(h *htmlWriter, box postxfer.TransferBox, csrfToken string) {
	h.raw(`<div class="pie-box"><h2>Export / Import</h2><form method="post" action="/admin/export/">`)
	h.csrfField(csrfToken)
	h.rawf(`<input type="hidden" name="post_id" value="%d">`, box.PostID)
	h.raw(`<input type="hidden" name="nonce" value="`)
	h.text(box.ExportToken)
	h.raw(`"><button type="submit">Export</button></form>`)
	h.rawf(`<label for="pie-import-file">Import</label><input type="file" id="pie-import-file" accept=".json,application/json" data-post-id="%d" data-nonce="`, box.PostID)
	h.text(box.ImportToken)
	h.raw(`" data-csrf="`)
	h.text(csrfToken)
	h.raw(`">`)
	h.raw(`<label><input type="checkbox" id="pie-replace-url" checked> Replace URLs</label>`)
	h.raw(`<label><input type="checkbox" id="pie-import-images" checked> Import images</label>`)
	h.raw(`<script>` + importScript + `</script></div>`)
}

const importScript = `document.getElementById('pie-import-file').addEventListener('change', function (e) {
  var input = e.target;
  var file = input.files[0];
  if (!file) { return; }
  var fd = new FormData();
  fd.append('post_id', input.dataset.postId);
  fd.append('import_post_nonce', input.dataset.nonce);
  fd.append('import_file', file);
  fd.append('replace_url', document.getElementById('pie-replace-url').checked ? '1' : '0');
  fd.append('import_images', document.getElementById('pie-import-images').checked ? '1' : '0');
  fetch('/admin/import/', {method: 'POST', body: fd, credentials: 'same-origin', headers: {'X-CSRF-Token': input.dataset.csrf}})
    .then(function (r) { return r.json(); })
    .then(function (res) {
      if (res.success) { window.location.reload(); return; }
      console.log('Import failed response:', res);
      alert('Import failed: ' + (res.data && res.data.message ? res.data.message : 'unknown error'));
    })
    .catch(function (err) { console.log(err); alert('Import failed'); })
    .finally(function () { input.value = ''; });
});`

// AdminImages renders the media library with an upload form.
func AdminImages(media []transfer.MediaAsset, message string, csrfToken string) templ.Component {
	return page("Media", func(h *htmlWriter) {
		adminNav(h, csrfToken)
		h.raw(`<h1>Media</h1>`)
		if message != "" {
			h.raw(`<p class="msg">`)
			h.text(message)
			h.raw(`</p>`)
		}
		h.raw(`<form method="post" action="/admin/images/upload/" enctype="multipart/form-data">`)
		h.csrfField(csrfToken)
		h.raw(`<input type="file" name="image" accept="image/*"> <button type="submit">Upload</button></form><div class="media">`)
		for _, m := range media {
			h.raw(`<figure><img loading="lazy" src="`)
			h.text(m.URL)
			h.raw(`" alt=""><figcaption>`)
			h.text(m.Filename)
			h.rawf(`<br>%d&times;%d, `, m.Width, m.Height)
			h.text(humanize.Bytes(uint64(m.Size)))
			h.rawf(`<br><button type="button" data-id="%d" onclick="deleteMedia(this)">Delete</button></figcaption></figure>`, m.ID)
		}
		h.raw(`</div><script>function deleteMedia(btn) {
  if (!confirm('Delete this file?')) { return; }
  fetch('/admin/images/' + btn.dataset.id + '/', {method: 'DELETE', credentials: 'same-origin', headers: {'X-CSRF-Token': '`)
		h.text(csrfToken)
		h.raw(`'}}).then(function () { window.location.reload(); });
}</script>`)
	})
}

// NotFound renders the 404 page.
func NotFound() templ.Component {
	return page("Not found", func(h *htmlWriter) {
		h.raw(`<h1>Not found</h1><p><a href="/admin/">Back to the admin</a></p>`)
	})
}

// ServerError renders the 500 page.
func ServerError() templ.Component {
	return page("Error", func(h *htmlWriter) {
		h.raw(`<h1>Something went wrong</h1><p>The error has been logged.</p>`)
	})
}
