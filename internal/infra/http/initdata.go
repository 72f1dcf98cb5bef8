package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

type ctxKey int

const webAppUserKey ctxKey = iota

// WebAppUser — пользователь из initData Telegram Mini App.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

// WebAppUserFrom возвращает пользователя, проверенного WebAppAuthMiddleware.
func WebAppUserFrom(ctx context.Context) (WebAppUser, bool) {
	u, ok := ctx.Value(webAppUserKey).(WebAppUser)
	return u, ok
}

// WebAppAuthMiddleware проверяет initData по токену бота и кладёт пользователя в контекст.
func WebAppAuthMiddleware(botToken string) func(http.Handler) http.Handler {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	secret := mac.Sum(nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get("X-Telegram-Init-Data")
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			if initData == "" {
				http.Error(w, "init_data отсутствует", http.StatusUnauthorized)
				return
			}
			user, ok := validateInitData(initData, secret)
			if !ok {
				http.Error(w, "подпись недействительна", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), webAppUserKey, user)))
		})
	}
}

// validateInitData проверяет подпись: HMAC от отсортированных пар key=value без hash, разделённых переводом строки.
func validateInitData(initData string, secret []byte) (WebAppUser, bool) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, false
	}
	hash := values.Get("hash")
	if hash == "" {
		return WebAppUser{}, false
	}
	expected, err := hex.DecodeString(hash)
	if err != nil {
		return WebAppUser{}, false
	}
	pairs := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strings.Join(pairs, "\n")))
	if !hmac.Equal(h.Sum(nil), expected) {
		return WebAppUser{}, false
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return WebAppUser{}, false
	}
	return user, true
}

// AdminTokenMiddleware пускает запросы с заголовком Authorization: Bearer <token>.
// Пустой токен закрывает доступ полностью.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "доступ запрещён", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
