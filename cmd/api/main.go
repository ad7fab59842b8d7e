package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"industrialvisit/internal/attendance"
	"industrialvisit/internal/audit"
	"industrialvisit/internal/auth"
	"industrialvisit/internal/cloudinary"
	"industrialvisit/internal/config"
	"industrialvisit/internal/handler"
	"industrialvisit/internal/httpmiddleware"
	"industrialvisit/internal/metrics"
	"industrialvisit/internal/queue"
	"industrialvisit/internal/store"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrate := pflag.Bool("migrate", false, "apply the database schema before serving")
	pflag.Parse()

	if err := config.LoadFile(*envFile); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, *migrate); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, migrate bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		st          attendance.Store
		db          *store.DB
		redisClient *store.Redis
	)
	switch cfg.StoreBackend {
	case "memory":
		st = attendance.NewMemoryStore()
		log.Println("using in-memory store; data is lost on restart")
	case "postgres":
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if migrate {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			log.Println("schema applied")
		}
		st = attendance.NewRepository(db.Client)
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		q = mem
		// no separate worker can reach an in-process queue, so audit here
		if err := startAudit(ctx, mem, st); err != nil {
			return err
		}
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := attendance.NewService(st, cfg.QRTokenTTL,
		attendance.WithPublisher(q),
		attendance.WithMetrics(metrics.New(reg)),
	)

	if cfg.AdminUsername != "" {
		creds := attendance.Credentials{Username: cfg.AdminUsername, Password: cfg.AdminPassword}
		if err := svc.EnsureAdmin(ctx, creds); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	// Cloudinary client (nil when not configured)
	var images handler.ImageHost
	if cfg.CloudinaryEnabled() {
		images = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	var checkinLimiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.CheckInLimitPerMin, cfg.CheckInLimitPerMin)
	if redisClient != nil {
		checkinLimiter = httpmiddleware.NewRedisWindow(redisClient.Client, "visits:ratelimit", cfg.CheckInLimitPerMin, time.Minute)
	}

	issuer := auth.Issuer{
		Name:       cfg.JWTIssuer,
		Key:        []byte(cfg.JWTSigningKey),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}
	h := handler.New(svc, issuer, images, handler.Options{
		QRBaseURL:      cfg.QRPublicBaseURL,
		QRImageSize:    cfg.QRImageSize,
		CheckInLimiter: checkinLimiter,
	})
	if db != nil {
		h.AddCheck("db", db.Healthy)
	}
	if redisClient != nil {
		h.AddCheck("redis", redisClient.Healthy)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

type consumer interface {
	Consume(ctx context.Context) (<-chan queue.Message, error)
}

// startAudit feeds events from q into sink until ctx is cancelled.
func startAudit(ctx context.Context, q consumer, sink audit.Sink) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	go audit.NewProcessor(sink).Run(ctx, msgs)
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
