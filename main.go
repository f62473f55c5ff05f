package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"axiomvault/auth"
	"axiomvault/config"
	"axiomvault/db"
	"axiomvault/httpapi"
	"axiomvault/syncengine"
	"axiomvault/vault"
)

var log = logrus.WithField("component", "main")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	auth.SignSecret = cfg.SignSecret
	if cfg.StreamThresholdBytes > 0 {
		vault.StreamThreshold = cfg.StreamThresholdBytes
	}

	var stateStore syncengine.SyncStateStore
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Warn("database unavailable, continuing without the optional backing store")
		} else {
			auth.Store = database
		}

		gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			log.WithError(err).Warn("gorm connection unavailable, sync state will not be mirrored to the database")
		} else {
			store, err := syncengine.NewGormSyncStateStore(gdb)
			if err != nil {
				log.WithError(err).Warn("sync state store migration failed")
			} else {
				stateStore = store
			}
		}
	}

	manager := httpapi.NewVaultManager(cfg, stateStore)
	auth.Provisioner = manager
	auth.OnLogin = func(ctx context.Context, userID, password string) error {
		_, err := manager.Open(ctx, userID, password)
		return err
	}
	h := httpapi.NewHandlers(manager)

	router := gin.Default()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodHead, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-XSRF-TOKEN", "X-CSRF-TOKEN", "Accept", "X-Requested-With", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		MaxAge: 12 * time.Hour,
	}))

	apiGroup := router.Group("/api")
	{
		filesGroup := apiGroup.Group("/files")
		filesGroup.Use(auth.Authorize())
		{
			filesGroup.POST("/upload", h.UploadHandler)
			filesGroup.GET("/download", h.DownloadHandler)
			filesGroup.DELETE("/delete", h.DeleteHandler)
			filesGroup.GET("/ls", h.ListHandler)
			filesGroup.POST("/mkdir", h.MkdirHandler)
		}

		syncGroup := apiGroup.Group("/sync")
		syncGroup.Use(auth.Authorize())
		{
			syncGroup.POST("/now", h.SyncNowHandler)
			syncGroup.GET("/status", h.SyncStatusHandler)
		}

		authGroup := apiGroup.Group("/auth")
		{
			authGroup.POST("/register", auth.RegisterHandler)
			authGroup.POST("/login", auth.LoginHandler)
			authGroup.GET("/checksession", auth.SessionCheckHandler)

			authedAuthGroup := authGroup.Group("")
			authedAuthGroup.Use(auth.Authorize())
			{
				authedAuthGroup.POST("/logout", h.LogoutHandler)
				authedAuthGroup.GET("/genDLink", auth.GenerateDownloadLink)
			}
		}

		downloadGroup := apiGroup.Group("/dlink")
		{
			downloadGroup.GET("/download", h.SignedDownloadHandler)
		}
	}

	apiGroup.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	addr := "0.0.0.0:" + cfg.Port
	log.WithField("addr", addr).Info("starting server")
	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("server error")
	}
}
