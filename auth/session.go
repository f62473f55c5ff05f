package auth

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"axiomvault/cryptocore"
)

func Authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("authorized", false)

		sessionToken, err := c.Cookie("session_token")
		if err != nil || sessionToken == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		session, exists := Sessions[sessionToken]
		if !exists || sessionToken != session.SessionToken {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if time.Now().After(session.expiryTime) {
			delete(Sessions, sessionToken)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		rawCSRF := c.GetHeader("X-CSRF-TOKEN")
		csrf, _ := url.QueryUnescape(rawCSRF)
		if csrf == "" || !cryptocore.ConstantTimeEqual([]byte(csrf), []byte(session.CSRFToken)) {
			log.WithField("user", session.user.Username).Warn("csrf token mismatch")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set("username", session.user.Username)
		c.Set("userid", session.user.UserID)
		c.Set("user", session.user)
		c.Set("authorized", true)
	}
}

func SessionCheckHandler(c *gin.Context) {
	sessionToken, err := c.Cookie("session_token")
	if err != nil || sessionToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false, "message": "no session token found"})
		return
	}

	session, exists := Sessions[sessionToken]
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false, "message": "invalid session token"})
		return
	}

	if time.Now().After(session.expiryTime) {
		delete(Sessions, sessionToken)
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false, "message": "session expired"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"username":      session.user.Username,
		"email":         session.user.Email,
		"userID":        session.user.UserID,
		"vaultID":       session.user.VaultID,
	})
}
