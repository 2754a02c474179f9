package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatepass/internal/auth"
	"gatepass/internal/checkin"
	"gatepass/internal/config"
	"gatepass/internal/credential"
	"gatepass/internal/httpmiddleware"
	"gatepass/internal/identity"
	"gatepass/internal/imagestore"
	"gatepass/internal/observability"
	"gatepass/internal/queue"
	"gatepass/internal/store"
	"gatepass/internal/verify"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	images, err := imagestore.NewMinIOStore(cfg.Images)
	if err != nil {
		return err
	}
	if err := images.EnsureBucket(ctx); err != nil {
		log.Printf("warning: image bucket not ready: %v", err)
	}

	face := verify.New(cfg.Face.ServiceURL, cfg.Face.Skip)
	if !cfg.Face.Skip {
		if err := face.Health(ctx); err != nil {
			log.Printf("warning: face service not available: %v", err)
		}
	}

	var q queue.Queue
	if cfg.Queue.Backend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.Queue.Key)
	}

	identRepo := identity.NewPostgresRepository(db.Client)
	idents := identity.NewService(identRepo, credential.NewIssuer(256), images)

	ledger := checkin.NewPostgresLedger(db.Client)
	roster := checkin.NewRedisRoster(redisClient.Client, "")
	coordinator := checkin.NewCoordinator(ledger, ledger.Attempts(), idents, face, images, roster)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimit, cfg.RateLimit).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/kiosks/register", func(c *gin.Context) {
		var req struct {
			KioskID string `json:"kiosk_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.KioskID, "kiosk", cfg.Auth.JWTIssuer, cfg.Auth.JWTSigningKey, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.KioskAuth(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))

	authGroup.POST("/institutions", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inst, err := identRepo.CreateInstitution(c.Request.Context(), req.Name)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, inst)
	})

	authGroup.POST("/enrollments", func(c *gin.Context) {
		params, err := parseEnrollment(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ident, err := idents.Enroll(c.Request.Context(), params)
		if err != nil {
			observability.EnrollmentsTotal.WithLabelValues("rejected").Inc()
			writeError(c, err)
			return
		}
		observability.EnrollmentsTotal.WithLabelValues("created").Inc()
		c.JSON(http.StatusCreated, ident)
	})

	authGroup.GET("/identities/:id", func(c *gin.Context) {
		id, kind, ok := identityParams(c)
		if !ok {
			return
		}
		ident, err := idents.Resolve(c.Request.Context(), id, kind)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ident)
	})

	authGroup.PATCH("/identities/:id", func(c *gin.Context) {
		id, kind, ok := identityParams(c)
		if !ok {
			return
		}
		params, err := parseUpdate(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ident, err := idents.Update(c.Request.Context(), id, kind, params)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ident)
	})

	authGroup.DELETE("/identities/:id", func(c *gin.Context) {
		id, kind, ok := identityParams(c)
		if !ok {
			return
		}
		if err := idents.Delete(c.Request.Context(), id, kind); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.GET("/identities/:id/credential", func(c *gin.Context) {
		serveImage(c, idents, images, func(ident *identity.Identity) string { return ident.CredentialKey }, "image/png")
	})

	authGroup.GET("/identities/:id/image", func(c *gin.Context) {
		serveImage(c, idents, images, func(ident *identity.Identity) string { return ident.ImageKey }, "image/jpeg")
	})

	authGroup.POST("/scans", func(c *gin.Context) {
		req, err := parseScan(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		scanCtx, cancel := context.WithTimeout(c.Request.Context(), cfg.ScanTimeout)
		defer cancel()

		started := time.Now()
		result, err := coordinator.Scan(scanCtx, req)
		observability.ScanDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			log.Printf("scan failed for identity %d: %v", req.IdentityID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
			return
		}
		observability.ScansTotal.WithLabelValues(string(result.Outcome)).Inc()

		if result.Outcome == checkin.OutcomeAdmitted {
			body, _ := json.Marshal(queue.AdmissionEvent{
				RecordID:   result.Record.ID,
				IdentityID: result.Record.IdentityID,
				DayKey:     result.Record.DayKey,
				Matched:    result.Record.Matched,
			})
			if err := q.Publish(c.Request.Context(), queue.Message{Type: "admission", Body: body}); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}
		c.JSON(scanStatus(result.Outcome), result)
	})

	authGroup.GET("/identities/:id/checkins", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		records, err := ledger.ListByIdentity(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"checkins": records})
	})

	authGroup.GET("/identities/:id/attempts", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		attempts, err := ledger.ListAttempts(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": attempts})
	})

	authGroup.POST("/checkins/:id/departure", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		if err := ledger.SetDeparture(c.Request.Context(), id, time.Now()); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	log.Println("server exited")
	return nil
}

// parseEnrollment reads the multipart enrollment form. The reference
// photo travels in the "image" file field.
func parseEnrollment(c *gin.Context) (identity.EnrollParams, error) {
	params := identity.EnrollParams{
		Kind:  identity.Kind(c.PostForm("kind")),
		Name:  c.PostForm("name"),
		Email: c.PostForm("email"),
	}
	if params.Kind == "" {
		params.Kind = identity.KindFull
	}
	if nid := c.PostForm("national_id"); nid != "" {
		params.NationalID = &nid
	}
	params.IsStudent = c.PostForm("is_student") == "true"
	params.IsInstructor = c.PostForm("is_instructor") == "true"
	if inst := c.PostForm("institution_id"); inst != "" {
		id, err := strconv.ParseInt(inst, 10, 64)
		if err != nil {
			return params, errors.New("institution_id must be an integer")
		}
		params.InstitutionID = &id
	}
	img, err := formFile(c, "image")
	if err != nil {
		return params, err
	}
	params.Image = img
	return params, nil
}

func parseUpdate(c *gin.Context) (identity.UpdateParams, error) {
	var params identity.UpdateParams
	if v, ok := c.GetPostForm("name"); ok {
		params.Name = &v
	}
	if v, ok := c.GetPostForm("email"); ok {
		params.Email = &v
	}
	if v, ok := c.GetPostForm("national_id"); ok {
		params.NationalID = &v
	}
	if v, ok := c.GetPostForm("institution_id"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return params, errors.New("institution_id must be an integer")
		}
		params.InstitutionID = &id
	}
	img, err := formFile(c, "image")
	if err != nil {
		return params, err
	}
	params.Image = img
	return params, nil
}

// parseScan accepts either a JSON body (plain QR check-in) or a multipart
// form carrying the live capture for biometric confirmation.
func parseScan(c *gin.Context) (checkin.ScanRequest, error) {
	req := checkin.ScanRequest{Kind: identity.KindFull}

	if strings.Contains(c.ContentType(), "multipart/form-data") {
		id, err := strconv.ParseInt(c.PostForm("identity_id"), 10, 64)
		if err != nil {
			return req, errors.New("identity_id must be an integer")
		}
		req.IdentityID = id
		if kind := c.PostForm("kind"); kind != "" {
			req.Kind = identity.Kind(kind)
		}
		req.RequireMatch = c.PostForm("verify") == "true"
		img, err := formFile(c, "image")
		if err != nil {
			return req, err
		}
		req.Candidate = img
		return req, nil
	}

	var body struct {
		IdentityID int64  `json:"identity_id" binding:"required"`
		Kind       string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return req, err
	}
	req.IdentityID = body.IdentityID
	if body.Kind != "" {
		req.Kind = identity.Kind(body.Kind)
	}
	return req, nil
}

func formFile(c *gin.Context, field string) ([]byte, error) {
	file, _, err := c.Request.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func identityParams(c *gin.Context) (int64, identity.Kind, bool) {
	id, ok := pathID(c)
	if !ok {
		return 0, "", false
	}
	kind := identity.Kind(c.DefaultQuery("kind", string(identity.KindFull)))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be full or quick"})
		return 0, "", false
	}
	return id, kind, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}

func serveImage(c *gin.Context, idents *identity.Service, images *imagestore.MinIOStore, keyOf func(*identity.Identity) string, contentType string) {
	id, kind, ok := identityParams(c)
	if !ok {
		return
	}
	ident, err := idents.Resolve(c.Request.Context(), id, kind)
	if err != nil {
		writeError(c, err)
		return
	}
	key := keyOf(ident)
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	data, err := images.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func scanStatus(outcome checkin.Outcome) int {
	switch outcome {
	case checkin.OutcomeAdmitted:
		return http.StatusCreated
	case checkin.OutcomeNotFound:
		return http.StatusNotFound
	case checkin.OutcomeDuplicateToday:
		return http.StatusConflict
	case checkin.OutcomeNoMatch:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, checkin.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, identity.ErrDuplicate), errors.Is(err, checkin.ErrDeparted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, identity.ErrUnknownInstitution):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
