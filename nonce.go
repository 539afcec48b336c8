package postxfer

import (
	"time"

	"github.com/gorilla/securecookie"
)

// actionTokenMaxAge bounds how long an export or import form stays usable
// after the editor rendered it.
const actionTokenMaxAge = 24 * time.Hour

// newActionTokens returns a codec for per-action tokens. The action is the
// signed name and the record id the signed value, so a token verifies only
// for the action and record it was issued for.
func newActionTokens(secret string, maxAge time.Duration) *securecookie.SecureCookie {
	return securecookie.New([]byte(secret), nil).
		MaxAge(int(maxAge / time.Second)).
		SetSerializer(securecookie.JSONEncoder{})
}

// ActionToken returns a token for action on record postID.
func (a *App) ActionToken(action string, postID int64) string {
	token, err := a.tokens.Encode(action, postID)
	if err != nil {
		a.Echo.Logger.Errorf("issue %s token for post %d: %v", action, postID, err)
		return ""
	}
	return token
}

// VerifyActionToken reports whether token was issued for action on postID
// and has not expired.
func (a *App) VerifyActionToken(token, action string, postID int64) bool {
	if token == "" {
		return false
	}
	var id int64
	if err := a.tokens.Decode(action, token, &id); err != nil {
		return false
	}
	return id == postID
}

func (a *App) transferBox(postID int64) TransferBox {
	return TransferBox{
		PostID:      postID,
		ExportToken: a.ActionToken(actionExport, postID),
		ImportToken: a.ActionToken(actionImport, postID),
	}
}
