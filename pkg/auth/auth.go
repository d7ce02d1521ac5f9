// Package auth implements the Google sign-in flow and keeps the resulting
// OAuth token in an encrypted cookie.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

const (
	LoginPath   = "/api/auth/google"
	stateCookie = "oauth_state"
	stateMaxAge = 10 * 60
	tokenMaxAge = 30 * 24 * 60 * 60
)

type Config struct {
	Enabled    bool
	CookieName string
	HashKey    []byte
	BlockKey   []byte
	Secure     bool
	AfterLogin string
}

// NewGoogleOAuth returns the consent configuration for spreadsheet access.
func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{sheets.SpreadsheetsScope},
		Endpoint:     google.Endpoint,
	}
}

// storedToken is what goes into the cookie; oauth2.Token carries unexported
// state that does not survive encoding.
type storedToken struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Expiry       time.Time
}

type Manager struct {
	cfg     Config
	oauth   *oauth2.Config
	cookies *securecookie.SecureCookie
	logger  *zap.Logger
}

// New builds the manager. Without a block key the cookie is encrypted with a
// random per-process key, so sessions end when the process restarts.
func New(cfg Config, oauth *oauth2.Config, logger *zap.Logger) *Manager {
	block := cfg.BlockKey
	if len(block) == 0 {
		logger.Warn("auth block key not set, token cookies will not survive a restart")
		block = securecookie.GenerateRandomKey(32)
	}
	if cfg.AfterLogin == "" {
		cfg.AfterLogin = "/"
	}
	cookies := securecookie.New(cfg.HashKey, block)
	cookies.MaxAge(tokenMaxAge)
	return &Manager{cfg: cfg, oauth: oauth, cookies: cookies, logger: logger}
}

// Login starts the consent flow.
func (m *Manager) Login(c *gin.Context) {
	state := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateMaxAge, "/", "", m.cfg.Secure, true)
	url := m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	c.Redirect(http.StatusFound, url)
}

// Callback exchanges the authorization code and stores the token.
func (m *Manager) Callback(c *gin.Context) {
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", m.cfg.Secure, true)

	if msg := c.Query("error"); msg != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "consent denied: " + msg, "loginUrl": LoginPath})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}

	tok, err := m.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		m.logger.Warn("oauth code exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "failed to exchange authorization code", "loginUrl": LoginPath})
		return
	}
	if err := m.setToken(c, tok); err != nil {
		m.logger.Error("encode token cookie", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store token"})
		return
	}
	m.logger.Info("user signed in")
	c.Redirect(http.StatusFound, m.cfg.AfterLogin)
}

func (m *Manager) Logout(c *gin.Context) {
	c.SetCookie(m.cfg.CookieName, "", -1, "/", "", m.cfg.Secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (m *Manager) setToken(c *gin.Context, tok *oauth2.Token) error {
	encoded, err := m.cookies.Encode(m.cfg.CookieName, storedToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cfg.CookieName, encoded, tokenMaxAge, "/", "", m.cfg.Secure, true)
	return nil
}

func (m *Manager) token(c *gin.Context) (*oauth2.Token, bool) {
	raw, err := c.Cookie(m.cfg.CookieName)
	if err != nil || raw == "" {
		return nil, false
	}
	var st storedToken
	if err := m.cookies.Decode(m.cfg.CookieName, raw, &st); err != nil {
		m.logger.Debug("rejecting token cookie", zap.Error(err))
		return nil, false
	}
	if st.AccessToken == "" && st.RefreshToken == "" {
		return nil, false
	}
	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}, true
}

// Middleware attaches the signed-in user's token to the request context.
// With auth disabled every request passes untouched.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.cfg.Enabled {
			c.Next()
			return
		}
		tok, ok := m.token(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "authentication required",
				"loginUrl": LoginPath,
			})
			return
		}
		c.Request = c.Request.WithContext(WithToken(c.Request.Context(), tok))
		c.Next()
	}
}

type tokenKey struct{}

func WithToken(ctx context.Context, tok *oauth2.Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, tok)
}

func TokenFromContext(ctx context.Context) (*oauth2.Token, bool) {
	tok, ok := ctx.Value(tokenKey{}).(*oauth2.Token)
	return tok, ok && tok != nil
}
