package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Murzuq/Cash-Padi/shared/logger"
	"github.com/Murzuq/Cash-Padi/shared/middleware"
)

// maxBodyBytes caps proxied request bodies.
const maxBodyBytes = 1 << 20

type upstreams struct {
	auth   string
	user   string
	wallet string
}

func main() {
	_ = godotenv.Load()

	zl, err := logger.New(getEnv("APP_ENV", "production"), getEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	router := newRouter(upstreams{
		auth:   getEnv("AUTH_SERVICE_URL", "http://localhost:8081"),
		user:   getEnv("USER_SERVICE_URL", "http://localhost:8082"),
		wallet: getEnv("WALLET_SERVICE_URL", "http://localhost:8085"),
	}, &http.Client{Timeout: 15 * time.Second}, zl)

	port := getEnv("PORT", "8080")
	srv := &http.Server{Addr: ":" + port, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		zl.Info("api gateway starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown failed", zap.Error(err))
	}
}

func newRouter(up upstreams, client *http.Client, zl *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggingMiddleware(zl))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api-gateway"})
	})

	// Auth routes (no authentication required)
	router.POST("/v1/auth/login", proxyTo(up.auth, client, zl))
	router.POST("/v1/auth/refresh", proxyTo(up.auth, client, zl))

	// User routes
	router.POST("/v1/users", proxyTo(up.user, client, zl)) // registration
	router.GET("/v1/users/:userId", middleware.AuthMiddleware(), proxyTo(up.user, client, zl))
	router.PATCH("/v1/users/:userId", middleware.AuthMiddleware(), proxyTo(up.user, client, zl))

	// Wallet routes. The wallet service re-checks the token itself.
	router.Any("/v1/wallet/*path", middleware.AuthMiddleware(), proxyTo(up.wallet, client, zl))

	return router
}

func proxyTo(serviceURL string, client *http.Client, zl *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetURL := serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			var err error
			bodyBytes, err = io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to read request body"})
				return
			}
			if len(bodyBytes) > maxBodyBytes {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Request body too large"})
				return
			}
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create request"})
			return
		}

		for key, values := range c.Request.Header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		// Never trust identity headers supplied by the client.
		req.Header.Del("X-User-ID")
		req.Header.Del("X-Service-Token")
		if userID, ok := middleware.GetUserID(c); ok {
			req.Header.Set("X-User-ID", userID)
		}

		resp, err := client.Do(req)
		if err != nil {
			zl.Warn("proxy request failed", zap.String("target", targetURL),
				zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"message": "Service unavailable"})
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"message": "Failed to read response"})
			return
		}

		for key, values := range resp.Header {
			if key == middleware.RequestIDHeader {
				continue
			}
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSuffix(value, "/")
	}
	return fallback
}
