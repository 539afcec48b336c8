package postxfer

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/postxfer/transfer"
)

var editorStatuses = map[string]bool{
	transfer.StatusPublish: true,
	transfer.StatusDraft:   true,
	transfer.StatusPending: true,
	transfer.StatusPrivate: true,
	transfer.StatusFuture:  true,
}

// editorTaxonomies are the taxonomies the record editor offers, keyed by
// form field.
var editorTaxonomies = []struct{ Field, Taxonomy string }{
	{"categories", "category"},
	{"tags", "post_tag"},
}

func (a *App) handleAdmin(c echo.Context) error {
	if !isAdmin(c) {
		return Render(c, a.Views.AdminLogin(false, csrfToken(c)))
	}
	return a.renderAdminDashboard(c, c.QueryParam("msg"))
}

func (a *App) handleAdminPost(c echo.Context) error {
	if !isAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	if c.Param("id") == "new" {
		return Render(c, a.Views.AdminPost(transfer.Post{Status: transfer.StatusDraft, Type: "post"}, nil, TransferBox{}, csrfToken(c)))
	}
	id, ok := parseID(c.Param("id"))
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return a.renderAdminPost(c, id)
}

func (a *App) renderAdminPost(c echo.Context, id int64) error {
	ctx := c.Request().Context()
	post, err := a.Store.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return err
	}
	taxonomies, err := a.Store.TaxonomiesFor(ctx, post.Type)
	if err != nil {
		return err
	}
	terms := make(map[string][]transfer.Term, len(taxonomies))
	for _, tax := range taxonomies {
		if terms[tax], err = a.Store.PostTerms(ctx, id, tax); err != nil {
			return err
		}
	}
	return Render(c, a.Views.AdminPost(post, terms, a.transferBox(id), csrfToken(c)))
}

func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := startAdminSession(c, a.now()); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.loginLimiter.Record(ip)
	c.Logger().Warnf("failed admin login from %s", ip)
	return Render(c, a.Views.AdminLogin(true, csrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := endAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

func adminMessage(c echo.Context, msg string) error {
	return c.Redirect(http.StatusSeeOther, "/admin/?msg="+url.QueryEscape(msg))
}

func (a *App) handleAdminSave(c echo.Context) error {
	if !isAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	ctx := c.Request().Context()

	title := strings.TrimSpace(c.FormValue("title"))
	slug := strings.TrimSpace(c.FormValue("slug"))
	if slug == "" {
		slug = transfer.Slugify(title)
	}
	status := c.FormValue("status")
	if !editorStatuses[status] {
		return adminMessage(c, "Unknown status.")
	}
	date := strings.TrimSpace(c.FormValue("date"))
	if date == "" {
		date = a.now().Format(transfer.DateLayout)
	}
	local, err := time.ParseInLocation(transfer.DateLayout, date, time.Local)
	if err != nil {
		return adminMessage(c, "Invalid date format. Use YYYY-MM-DD HH:MM:SS.")
	}
	dateGMT := local.UTC().Format(transfer.DateLayout)
	menuOrder := 0
	if v := strings.TrimSpace(c.FormValue("menu_order")); v != "" {
		if menuOrder, err = strconv.Atoi(v); err != nil {
			return adminMessage(c, "Menu order must be a number.")
		}
	}
	content := c.FormValue("content")
	excerpt := c.FormValue("excerpt")
	password := c.FormValue("password")
	commentStatus := openClosed(c.FormValue("comment_status"))
	pingStatus := openClosed(c.FormValue("ping_status"))

	id, exists := parseID(c.FormValue("id"))
	if exists {
		err = a.Store.UpdatePost(ctx, id, transfer.PostUpdate{
			Title:         &title,
			Content:       &content,
			Excerpt:       &excerpt,
			Status:        &status,
			Slug:          &slug,
			Date:          &date,
			DateGMT:       &dateGMT,
			CommentStatus: &commentStatus,
			PingStatus:    &pingStatus,
			Password:      &password,
			MenuOrder:     &menuOrder,
		})
	} else {
		id, err = a.Store.CreatePost(ctx, transfer.Post{
			Title:         title,
			Content:       content,
			Excerpt:       excerpt,
			Status:        status,
			Type:          "post",
			Slug:          slug,
			Author:        "admin",
			Date:          date,
			DateGMT:       dateGMT,
			CommentStatus: commentStatus,
			PingStatus:    pingStatus,
			Password:      password,
			MenuOrder:     menuOrder,
		})
	}
	if errors.Is(err, transfer.ErrNotFound) {
		return c.NoContent(http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	post, err := a.Store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	terms := transfer.TermMap{}
	for _, et := range editorTaxonomies {
		refs := []transfer.TermRef{}
		for _, name := range FilterEmpty(strings.Split(c.FormValue(et.Field), ",")) {
			refs = append(refs, transfer.TermRef{Name: name})
		}
		terms[et.Taxonomy] = refs
	}
	if err := transfer.NewContentWriter(a.Store, c.Logger()).WriteTerms(ctx, post, terms); err != nil {
		return err
	}
	return a.renderAdminPost(c, id)
}

func openClosed(v string) string {
	if formBool(v) || v == "open" {
		return "open"
	}
	return "closed"
}

func (a *App) renderAdminDashboard(c echo.Context, msg string) error {
	posts, err := a.Store.ListPosts(c.Request().Context())
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminDashboard(posts, msg, csrfToken(c)))
}
