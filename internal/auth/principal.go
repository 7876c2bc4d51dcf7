package auth

import (
	"errors"

	"github.com/gin-contrib/sessions"
)

// セッションストアに保存するキー。Principalの最小限の射影のみを置き、
// パスワードハッシュやSaltは決して含めません。
const (
	sessionKeyUserID  = "user_id"
	sessionKeyEmail   = "user_email"
	sessionKeyIsAdmin = "user_is_admin"
)

// ErrSessionCorrupt はセッションレコードが不正な形であることを示します。
// ログにのみ出力し、クライアントには未認証として扱います。
var ErrSessionCorrupt = errors.New("session record is corrupt")

// Principal は認証済みユーザの最小限のアイデンティティです。
type Principal struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

// storePrincipal はPrincipalをセッションに書き込みます。
func storePrincipal(session sessions.Session, p Principal) {
	session.Set(sessionKeyUserID, p.ID)
	session.Set(sessionKeyEmail, p.Email)
	session.Set(sessionKeyIsAdmin, p.IsAdmin)
}

// principalFromSession はセッションからPrincipalを復元します。
// セッションが未発行なら ok=false を返します。復元時にデータストアへの
// 再確認は行いません（性能優先の意図的なトレードオフ）。
// レコードの形が崩れている場合は ErrSessionCorrupt を返します。
func principalFromSession(session sessions.Session) (Principal, bool, error) {
	idValue := session.Get(sessionKeyUserID)
	emailValue := session.Get(sessionKeyEmail)
	adminValue := session.Get(sessionKeyIsAdmin)

	if idValue == nil && emailValue == nil && adminValue == nil {
		return Principal{}, false, nil
	}

	id, idOK := idValue.(int64)
	email, emailOK := emailValue.(string)
	isAdmin, adminOK := adminValue.(bool)
	if !idOK || !emailOK || !adminOK || email == "" {
		return Principal{}, false, ErrSessionCorrupt
	}

	return Principal{ID: id, Email: email, IsAdmin: isAdmin}, true, nil
}
