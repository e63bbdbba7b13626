// Command devserver serves every lambda handler behind one chi router for
// local development.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/psibackend/internal/app"
	"github.com/psibackend/internal/gateway"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("failed to start")
	}
	defer a.Close()

	limiter := gateway.NewRateLimiter(a.Config.DevRateLimitRPS, a.Config.DevRateLimitRPS*2, a.Log)
	limiter.StartCleanup(ctx, 5*time.Minute)

	srv := &http.Server{
		Addr:              a.Config.DevServerAddr,
		Handler:           gateway.NewRouter(a.Routes(), limiter, a.Log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Log.WithField("addr", srv.Addr).Info("dev server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Log.WithError(err).Fatal("server stopped")
	}
}
