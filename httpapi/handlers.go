package httpapi

import (
	"crypto/hmac"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"axiomvault/auth"
	"axiomvault/syncengine"
	"axiomvault/vault"
	"axiomvault/vaulterr"
)

// Handlers binds a VaultManager to the Gin route functions below.
type Handlers struct {
	Manager *VaultManager
}

func NewHandlers(manager *VaultManager) *Handlers {
	return &Handlers{Manager: manager}
}

func (h *Handlers) liveVaultFor(c *gin.Context) (*LiveVault, bool) {
	user := auth.UserFromContext(c)
	if user == nil {
		c.String(http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	lv, ok := h.Manager.Get(user.UserID)
	if !ok {
		c.String(http.StatusLocked, "vault is locked; log in again")
		return nil, false
	}
	return lv, true
}

func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case vaulterr.Is(err, vaulterr.NotFound):
		status = http.StatusNotFound
	case vaulterr.Is(err, vaulterr.AlreadyExists):
		status = http.StatusConflict
	case vaulterr.Is(err, vaulterr.InvalidInput):
		status = http.StatusBadRequest
	case vaulterr.Is(err, vaulterr.NotPermitted), vaulterr.Is(err, vaulterr.PermissionDenied):
		status = http.StatusForbidden
	}
	c.String(status, "%v", err)
}

// UploadHandler stores (or replaces) the file at the logical path given in
// the "path" form field. A clean single-shot upload; CreateFile/UpdateFile
// internally dispatch to the streaming codec once content crosses
// vault.StreamThreshold.
func (h *Handlers) UploadHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, "no file uploaded: %v", err)
		return
	}
	logicalPath := c.PostForm("path")
	if logicalPath == "" {
		c.String(http.StatusBadRequest, "missing target path")
		return
	}

	src, err := fh.Open()
	if err != nil {
		c.String(http.StatusInternalServerError, "error opening upload: %v", err)
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		c.String(http.StatusInternalServerError, "error reading upload: %v", err)
		return
	}

	ctx := c.Request.Context()
	vp := vault.ParseVaultPath(logicalPath)
	kind := syncengine.ChangeCreate
	if lv.Session.Exists(ctx, vp) {
		if _, err := lv.Session.UpdateFile(ctx, vp, content); err != nil {
			writeErr(c, err)
			return
		}
		kind = syncengine.ChangeUpdate
	} else {
		if _, err := lv.Session.CreateFile(ctx, vp, content); err != nil {
			writeErr(c, err)
			return
		}
	}
	if err := lv.Engine.RecordLocalWrite(ctx, logicalPath, kind, content); err != nil {
		log.WithError(err).WithField("path", logicalPath).Warn("stage upload for sync failed")
	}

	c.String(http.StatusOK, "file uploaded successfully")
}

func (h *Handlers) DownloadHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}
	h.download(c, lv, c.Query("filepath"))
}

func (h *Handlers) download(c *gin.Context, lv *LiveVault, requestedPath string) {
	if requestedPath == "" {
		c.String(http.StatusBadRequest, "missing file path")
		return
	}
	vp := vault.ParseVaultPath(requestedPath)
	content, err := lv.Session.ReadFile(c.Request.Context(), vp)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, vp.Name()))
	c.Data(http.StatusOK, "application/octet-stream", content)
}

// SignedDownloadHandler validates a time-limited HMAC-signed link before
// delegating to the normal download path. No raw-file fallback on
// decryption failure: a corrupt or tampered blob must surface as an error,
// never partial or unauthenticated plaintext.
func (h *Handlers) SignedDownloadHandler(c *gin.Context) {
	fp := c.Query("fp")
	userID := c.Query("u")
	expStr := c.Query("exp")
	sig := c.Query("sig")

	expUnix, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || time.Now().Unix() > expUnix {
		c.String(http.StatusUnauthorized, "link expired")
		return
	}
	expected := auth.SignDownload(fp, userID, time.Unix(expUnix, 0))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}

	lv, ok := h.Manager.Get(userID)
	if !ok {
		c.String(http.StatusLocked, "vault is locked")
		return
	}
	h.download(c, lv, fp)
}

func (h *Handlers) DeleteHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}
	requestedPath := c.Query("filepath")
	if requestedPath == "" {
		c.String(http.StatusBadRequest, "missing file path")
		return
	}
	if err := lv.Session.DeleteFile(c.Request.Context(), vault.ParseVaultPath(requestedPath)); err != nil {
		writeErr(c, err)
		return
	}
	if err := lv.Engine.RecordLocalDelete(requestedPath); err != nil {
		log.WithError(err).WithField("path", requestedPath).Warn("stage delete for sync failed")
	}
	c.String(http.StatusOK, "deleted")
}

func (h *Handlers) ListHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}
	requestedPath := c.Query("filepath")
	entries, err := lv.Session.ListDirectory(c.Request.Context(), vault.ParseVaultPath(requestedPath))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": requestedPath, "entries": entries})
}

func (h *Handlers) MkdirHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}
	requestedPath := c.PostForm("path")
	if requestedPath == "" {
		c.String(http.StatusBadRequest, "missing path")
		return
	}
	if _, err := lv.Session.CreateDirectory(c.Request.Context(), vault.ParseVaultPath(requestedPath)); err != nil {
		writeErr(c, err)
		return
	}
	if err := lv.Engine.RecordTreeChange(requestedPath); err != nil {
		log.WithError(err).WithField("path", requestedPath).Warn("record directory change for sync failed")
	}
	c.String(http.StatusOK, "directory created")
}

// SyncNowHandler enqueues an immediate full sync on the scheduler (the
// OnDemand/Hybrid trigger point).
func (h *Handlers) SyncNowHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}
	lv.Scheduler.Enqueue(syncengine.SyncRequest{Kind: syncengine.RequestFull})
	c.JSON(http.StatusOK, gin.H{"message": "sync requested"})
}

// SyncStatusHandler reports the current SyncEntry for every tracked path.
func (h *Handlers) SyncStatusHandler(c *gin.Context) {
	lv, ok := h.liveVaultFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":        lv.Engine.State.All(),
		"last_full_sync": lv.Engine.LastFullSync,
	})
}

// LogoutHandler locks the vault and drops the HTTP session.
func (h *Handlers) LogoutHandler(c *gin.Context) {
	user := auth.UserFromContext(c)
	if user == nil {
		c.String(http.StatusUnauthorized, "not authenticated")
		return
	}
	h.Manager.Close(user.UserID)
	if token, err := c.Cookie("session_token"); err == nil {
		delete(auth.Sessions, token)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
