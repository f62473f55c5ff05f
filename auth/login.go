package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"axiomvault/db"
)

var log = logrus.WithField("component", "auth")

// User is one registered identity. Each user owns exactly one personal
// vault (VaultID) — the no-sharing, no-multi-writer scope this system
// targets makes a 1:1 user:vault mapping the natural shape, unlike the
// teacher's single shared filestorage tree.
type User struct {
	Email        string
	Username     string
	PasswordHash string
	UserID       string
	VaultID      string
}

type Session struct {
	SessionToken string
	CSRFToken    string
	expiryTime   time.Time
	user         *User
}

// Sessions and Users are the in-memory identity store, mirrored to Store
// (if configured) so accounts survive a process restart.
var Sessions = map[string]Session{}
var Users = map[string]*User{}

// Store optionally mirrors users/sessions to Postgres. Nil means
// in-memory-only.
var Store *db.DB

// VaultProvisioner creates a brand-new vault for a freshly registered user.
// Kept as an interface (rather than importing the vault/httpapi wiring
// layer directly) to avoid a cycle: httpapi depends on auth, not the
// reverse.
type VaultProvisioner interface {
	ProvisionVault(ctx context.Context, userID, password string) (vaultID string, err error)
}

// Provisioner is wired by main at startup to the running vault manager.
var Provisioner VaultProvisioner

// OnLogin, if set, is invoked after a successful login so the vault
// manager can unlock (or reuse) the user's vault session alongside the
// HTTP session. Login succeeds even if this fails; api calls needing an
// unlocked vault will surface the error themselves.
var OnLogin func(ctx context.Context, userID, password string) error

func RegisterHandler(c *gin.Context) {
	email := c.PostForm("email")
	username := c.PostForm("username")
	password := c.PostForm("password")
	if len(email) < 8 || len(password) < 8 {
		c.String(http.StatusNotAcceptable, http.StatusText(http.StatusNotAcceptable))
		return
	}
	if _, ok := Users[email]; ok {
		c.String(http.StatusConflict, http.StatusText(http.StatusConflict))
		return
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		log.WithError(err).Error("hash password")
		c.String(http.StatusInternalServerError, "could not create account")
		return
	}

	userID := uuid.NewString()
	var vaultID string
	if Provisioner != nil {
		vaultID, err = Provisioner.ProvisionVault(c.Request.Context(), userID, password)
		if err != nil {
			log.WithError(err).Error("provision vault")
			c.String(http.StatusInternalServerError, "could not provision vault")
			return
		}
	}

	user := &User{
		Email:        email,
		Username:     username,
		PasswordHash: hashedPassword,
		UserID:       userID,
		VaultID:      vaultID,
	}
	Users[email] = user

	if Store != nil {
		if err := Store.CreateUser(c.Request.Context(), db.UserRecord{
			Email: email, Username: username, PasswordHash: hashedPassword, UserID: userID,
		}); err != nil {
			log.WithError(err).Warn("mirror user to database failed")
		}
		if vaultID != "" {
			if err := Store.RegisterVault(c.Request.Context(), userID, vaultID); err != nil {
				log.WithError(err).Warn("mirror vault registration to database failed")
			}
		}
	}

	log.WithFields(logrus.Fields{"email": email, "vault_id": vaultID}).Info("account created")
	c.JSON(http.StatusOK, gin.H{"message": "account created"})
}

func LoginHandler(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	if len(email) < 8 || len(password) < 8 {
		c.String(http.StatusNotAcceptable, http.StatusText(http.StatusNotAcceptable))
		return
	}

	user, ok := Users[email]
	if !ok {
		c.String(http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}
	if !checkPasswordHash(password, user.PasswordHash) {
		c.String(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	log.WithField("email", email).Info("user logged in")

	sessionToken := generateToken(32)
	csrfToken := generateToken(32)

	c.SetCookie("session_token", sessionToken, 3600, "/", "", false, true)
	c.SetCookie("csrf_token", csrfToken, 3600, "/", "", false, false)

	expiry := time.Now().Add(24 * time.Hour)
	Sessions[sessionToken] = Session{
		SessionToken: sessionToken,
		user:         user,
		CSRFToken:    csrfToken,
		expiryTime:   expiry,
	}
	if Store != nil {
		if err := Store.PersistSession(c.Request.Context(), sessionToken, user.UserID, csrfToken, expiry); err != nil {
			log.WithError(err).Warn("mirror session to database failed")
		}
	}
	if OnLogin != nil {
		if err := OnLogin(c.Request.Context(), user.UserID, password); err != nil {
			log.WithError(err).Warn("vault unlock at login failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged in", "vault_id": user.VaultID})
}

// UserFromContext resolves the authenticated User set by Authorize.
func UserFromContext(c *gin.Context) *User {
	v, ok := c.Get("user")
	if !ok {
		return nil
	}
	u, _ := v.(*User)
	return u
}
