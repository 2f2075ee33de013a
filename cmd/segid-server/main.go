// Command segid-server exposes the segment ID allocator over HTTP, wiring
// the DRS, segment buffers and allocator registry behind a small gin API.
// Logging and middleware follow zmux-server's gin/zap conventions.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Lzww0608/segid/drs"
	"github.com/Lzww0608/segid/registry"
	"github.com/Lzww0608/segid/segbuf"
)

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("main")

	dsn := os.Getenv("SEGID_DSN")
	if dsn == "" {
		dsn = "segid:segid@tcp(127.0.0.1:3306)/segid?parseTime=true"
	}
	addr := os.Getenv("SEGID_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	client, err := drs.Open(dsn)
	if err != nil {
		log.Fatal("failed to open DRS connection", zap.Error(err))
	}
	defer client.Close()

	reg := registry.New(
		func(ctx context.Context, tag string) error {
			_, err := client.Get(ctx, tag)
			return err
		},
		func(tag string) *segbuf.Buffer {
			return segbuf.New(tag, client, segbuf.WithLogger(log.Named("segbuf")))
		},
		log.Named("registry"),
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies(nil)

	r.Use(gin.Recovery())
	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(RequestID())
	r.Use(ZapLogger(log))

	h := &handlers{drs: client, registry: reg, log: log.Named("handlers")}
	r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	r.POST("/tags", h.createTag)
	r.GET("/ids/:tag", h.getOneID)
	r.GET("/ids/:tag/batch", h.batchGetIDs)

	log.Info("segid-server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
