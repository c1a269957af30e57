// Package app wires the services together and exposes them over HTTP
package app

import (
	"context"
	"fmt"
	"time"

	"bitwise74/attachment-api/app/attachment"
	"bitwise74/attachment-api/app/root"
	"bitwise74/attachment-api/config"
	"bitwise74/attachment-api/db"
	"bitwise74/attachment-api/internal"
	"bitwise74/attachment-api/internal/model"
	"bitwise74/attachment-api/internal/service"
	"bitwise74/attachment-api/internal/storage"
	"bitwise74/attachment-api/pkg/middleware"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"

	// Multipart overhead allowed on top of upload.max_size
	multipartSlack = 1 << 20
)

type RouterConfig struct {
	JWTSecret []byte
	Origins   []string
	RateLimit int
}

// NewDeps opens the database and builds the attachment services from the
// loaded config. The thumbnail workers are started, the reclaimer isn't.
func NewDeps() (*internal.Deps, error) {
	cfg, err := config.Storage()
	if err != nil {
		return nil, err
	}

	conn, err := db.New(viper.GetString("db.driver"), viper.GetString("db.dsn"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	files := storage.NewFileStore()
	sessions := service.NewSessionRegistry(conn, clock.New(), cfg.SessionTTL)

	perms := service.NewPermissionEvaluator()
	perms.Register(model.ContextProfile, service.ProfileAuthority{})

	generators := []service.ThumbnailGenerator{service.NewImageThumbnailGenerator()}
	if g := service.NewVideoThumbnailGenerator(cfg.FFmpegPath); g != nil {
		generators = append(generators, g)
	}

	queue := service.NewThumbnailQueue(cfg.ThumbnailWorkers, cfg.ThumbnailQueue, cfg.ThumbnailTimeout)

	store := service.NewAttachmentStore(service.StoreDeps{
		DB:          conn,
		Paths:       storage.NewPathResolver(cfg.Root),
		Files:       files,
		Sessions:    sessions,
		Permissions: perms,
		Thumbnails:  service.NewThumbnailPipeline(files, generators...),
		Queue:       queue,
	}, service.StoreConfig{
		MaxFileSize:       cfg.MaxFileSize,
		MaxFilenameLength: cfg.MaxFilenameLength,
		BlockedExtensions: cfg.BlockedExtensions,
		ThumbnailMaxSide:  cfg.ThumbnailMaxSide,
	})

	queue.StartWorkerPool()

	return &internal.Deps{
		DB:            conn,
		Store:         store,
		Sessions:      sessions,
		Queue:         queue,
		Reclaimer:     service.NewReclaimScheduler(store, sessions),
		MaxUploadSize: cfg.MaxFileSize,
	}, nil
}

// NewRouter builds the HTTP surface. Background work started by the
// middleware stops when ctx is cancelled.
func NewRouter(ctx context.Context, d *internal.Deps, rc RouterConfig) *gin.Engine {
	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     rc.Origins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Range"},
			ExposeHeaders:    []string{"Content-Length", "Content-Range", "Content-Disposition", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		ginzap.RecoveryWithZap(zap.L(), false),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD" || c.Request.URL.Path == "/metrics"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v, ok := c.Get("userID"); ok {
					fields = append(fields, zap.Any("user_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	router.MaxMultipartMemory = 8 << 20

	jwt := middleware.NewJWTMiddleware(rc.JWTSecret)
	rateLimiter := middleware.RateLimiterMiddleware(ctx, middleware.RateLimiterConfig{
		RequestsPerSecond: rc.RateLimit,
		Burst:             rc.RateLimit * 2,
	})
	jsonBody := middleware.BodySizeLimiter(1 << 20)

	// GET /metrics 			-> Prometheus scrape endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	main := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		main.HEAD("/heartbeat", func(c *gin.Context) { root.Heartbeat(c, d) })
	}

	sessions := main.Group("/attachments/sessions", jwt)
	{
		// POST /api/attachments/sessions		-> Opens a new upload session
		sessions.POST("", jsonBody, func(c *gin.Context) { attachment.SessionCreate(c, d) })

		// DELETE /api/attachments/sessions/:id		-> Discards a session and its uploads
		sessions.DELETE("/:id", func(c *gin.Context) { attachment.SessionDiscard(c, d) })

		// GET /api/attachments/sessions/:id/files	-> Lists the files staged in a session
		sessions.GET("/:id/files", func(c *gin.Context) { attachment.SessionFiles(c, d) })

		// POST /api/attachments/sessions/:id/files	-> Uploads a file into a session
		sessions.POST("/:id/files", middleware.BodySizeLimiter(d.MaxUploadSize+multipartSlack), func(c *gin.Context) { attachment.SessionUpload(c, d) })

		// POST /api/attachments/sessions/:id/finalize	-> Binds the staged files to their context
		sessions.POST("/:id/finalize", jsonBody, func(c *gin.Context) { attachment.SessionFinalize(c, d) })
	}

	files := main.Group("/attachments", jwt)
	{
		// GET /api/attachments?contextType=&contextId=	-> Lists the attachments of a context
		files.GET("", func(c *gin.Context) { attachment.ContextList(c, d) })

		// PUT /api/attachments/order		-> Changes the order of a context's attachments
		files.PUT("/order", jsonBody, func(c *gin.Context) { attachment.Reorder(c, d) })

		// GET /api/attachments/:id/meta	-> Returns the attachment record
		files.GET("/:id/meta", func(c *gin.Context) { attachment.Meta(c, d) })

		// GET /api/attachments/:id		-> Downloads the file, ?inline=1 to display it
		files.GET("/:id", func(c *gin.Context) { attachment.Download(c, d) })

		// GET /api/attachments/:id/thumbnail	-> Serves the preview of the file
		files.GET("/:id/thumbnail", func(c *gin.Context) { attachment.Thumbnail(c, d) })

		// DELETE /api/attachments/:id		-> Deletes an attachment
		files.DELETE("/:id", func(c *gin.Context) { attachment.Delete(c, d) })
	}

	return router
}

// MakeLogger replaces the global zap logger with a colored development
// logger at the given level
func MakeLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level, %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger, %w", err)
	}

	zap.ReplaceGlobals(log)
	return nil
}
