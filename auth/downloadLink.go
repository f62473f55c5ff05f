package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
)

// SignSecret keys the HMAC used by SignDownload. Wired from config at
// startup; defaults to a fixed dev value if never set.
var SignSecret = []byte("dev-sign-secret-change-me")

const downloadLinkTTL = 30 * time.Second

func GenerateDownloadLink(c *gin.Context) {
	sessionToken, _ := c.Cookie("session_token")
	session, ok := Sessions[sessionToken]
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	user := session.user
	vaultPath := c.Query("filepath")

	exp := time.Now().Add(downloadLinkTTL)
	sig := SignDownload(vaultPath, user.UserID, exp)

	link := fmt.Sprintf("%s://%s/api/dlink/download?fp=%s&u=%s&exp=%d&sig=%s",
		schemeOf(c), c.Request.Host, url.QueryEscape(vaultPath), user.UserID, exp.Unix(), sig)

	c.JSON(http.StatusOK, gin.H{"url": link})
}

func schemeOf(c *gin.Context) string {
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

// SignDownload HMACs (filepath, userID, exp) so a link cannot be extended
// or retargeted after issuance.
func SignDownload(vaultPath string, userID string, exp time.Time) string {
	message := fmt.Sprintf("%s|%s|%d", vaultPath, userID, exp.Unix())
	mac := hmac.New(sha256.New, SignSecret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
