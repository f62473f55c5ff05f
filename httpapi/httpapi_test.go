package httpapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"axiomvault/auth"
	"axiomvault/config"
)

func newTestRouter(t *testing.T) (*gin.Engine, *VaultManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{BaseDir: t.TempDir(), KdfPreset: "moderate"}
	manager := NewVaultManager(cfg, nil)
	auth.Users = map[string]*auth.User{}
	auth.Sessions = map[string]auth.Session{}
	auth.Store = nil
	auth.Provisioner = manager
	auth.OnLogin = func(ctx context.Context, userID, password string) error {
		_, err := manager.Open(ctx, userID, password)
		return err
	}
	h := NewHandlers(manager)

	r := gin.New()
	api := r.Group("/api")
	authGroup := api.Group("/auth")
	authGroup.POST("/register", auth.RegisterHandler)
	authGroup.POST("/login", auth.LoginHandler)

	files := api.Group("/files")
	files.Use(auth.Authorize())
	files.POST("/upload", h.UploadHandler)
	files.GET("/download", h.DownloadHandler)
	files.GET("/ls", h.ListHandler)
	files.DELETE("/delete", h.DeleteHandler)

	return r, manager
}

func registerAndLogin(t *testing.T, r *gin.Engine) (sessionCookie *http.Cookie, csrf string) {
	t.Helper()

	regBody := "email=alice%40example.com&username=alice&password=correcthorsebatterystaple"
	regReq := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(regBody))
	regReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	regW := httptest.NewRecorder()
	r.ServeHTTP(regW, regReq)
	require.Equal(t, http.StatusOK, regW.Code, regW.Body.String())

	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(regBody))
	loginReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	loginW := httptest.NewRecorder()
	r.ServeHTTP(loginW, loginReq)
	require.Equal(t, http.StatusOK, loginW.Code, loginW.Body.String())

	for _, ck := range loginW.Result().Cookies() {
		if ck.Name == "session_token" {
			sessionCookie = ck
		}
		if ck.Name == "csrf_token" {
			csrf = ck.Value
		}
	}
	require.NotNil(t, sessionCookie)
	require.NotEmpty(t, csrf)
	return sessionCookie, csrf
}

func TestRegisterLoginUploadDownloadRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionCookie, csrf := registerAndLogin(t, r)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "hello.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello vault"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("path", "/hello.txt"))
	require.NoError(t, mw.Close())

	uploadReq := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	uploadReq.Header.Set("Content-Type", mw.FormDataContentType())
	uploadReq.Header.Set("X-CSRF-TOKEN", csrf)
	uploadReq.AddCookie(sessionCookie)
	uploadW := httptest.NewRecorder()
	r.ServeHTTP(uploadW, uploadReq)
	require.Equal(t, http.StatusOK, uploadW.Code, uploadW.Body.String())

	downloadReq := httptest.NewRequest(http.MethodGet, "/api/files/download?filepath=/hello.txt", nil)
	downloadReq.Header.Set("X-CSRF-TOKEN", csrf)
	downloadReq.AddCookie(sessionCookie)
	downloadW := httptest.NewRecorder()
	r.ServeHTTP(downloadW, downloadReq)
	require.Equal(t, http.StatusOK, downloadW.Code)
	require.Equal(t, "hello vault", downloadW.Body.String())

	listReq := httptest.NewRequest(http.MethodGet, "/api/files/ls?filepath=/", nil)
	listReq.Header.Set("X-CSRF-TOKEN", csrf)
	listReq.AddCookie(sessionCookie)
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)
	require.Contains(t, listW.Body.String(), "hello.txt")
}

func TestListRejectsWithoutCSRF(t *testing.T) {
	r, _ := newTestRouter(t)
	sessionCookie, _ := registerAndLogin(t, r)

	req := httptest.NewRequest(http.MethodGet, "/api/files/ls?filepath=/", nil)
	req.AddCookie(sessionCookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
