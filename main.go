package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitwise74/attachment-api/app"
	"bitwise74/attachment-api/config"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	if err := config.Setup(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := app.MakeLogger(viper.GetString("app.log_level")); err != nil {
		panic(err)
	}
	defer zap.L().Sync()

	d, err := app.NewDeps()
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}

	if err := d.Reclaimer.Start(viper.GetString("reclaim.schedule")); err != nil {
		zap.L().Fatal("Failed to start session reclaim", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := app.NewRouter(ctx, d, app.RouterConfig{
		JWTSecret: []byte(viper.GetString("jwt.secret")),
		Origins:   config.CORSOrigins(),
		RateLimit: viper.GetInt("security.rate_limit"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("host.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()

	zap.L().Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Failed to shut down server cleanly", zap.Error(err))
	}

	d.Reclaimer.Stop()
	d.Queue.Stop()

	zap.L().Info("Bye")
}
