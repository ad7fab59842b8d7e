package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"industrialvisit/internal/attendance"
	"industrialvisit/internal/auth"
	"industrialvisit/internal/cloudinary"
	"industrialvisit/internal/httpmiddleware"
	"industrialvisit/internal/qr"
)

// ImageHost publishes rendered QR images. *cloudinary.Client satisfies it.
type ImageHost interface {
	UploadPNG(ctx context.Context, data []byte, publicID string) (*cloudinary.UploadResult, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) bool

// Options tune the HTTP surface.
type Options struct {
	// QRBaseURL, when set, turns QR payloads into check-in links.
	QRBaseURL   string
	QRImageSize int
	// CheckInLimiter throttles check-in attempts per student.
	CheckInLimiter httpmiddleware.Limiter
}

type Handler struct {
	svc    *attendance.Service
	issuer auth.Issuer
	images ImageHost // nil if Cloudinary not configured
	opts   Options
	checks map[string]Checker
}

func New(svc *attendance.Service, issuer auth.Issuer, images ImageHost, opts Options) *Handler {
	if opts.QRImageSize <= 0 {
		opts.QRImageSize = 300
	}
	return &Handler{svc: svc, issuer: issuer, images: images, opts: opts, checks: map[string]Checker{}}
}

// AddCheck registers a dependency reported by /healthz.
func (h *Handler) AddCheck(name string, fn Checker) {
	h.checks[name] = fn
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	pub := r.Group("/v1/auth")
	pub.POST("/register", h.Register)
	pub.POST("/login", h.Login)
	pub.POST("/refresh", h.RefreshSession)

	v1 := r.Group("/v1", auth.Authenticate(h.issuer))

	checkin := []gin.HandlerFunc{}
	if h.opts.CheckInLimiter != nil {
		checkin = append(checkin, httpmiddleware.Middleware(h.opts.CheckInLimiter, studentKey))
	}
	v1.POST("/checkin", append(checkin, h.CheckIn)...)

	v1.POST("/visits", h.CreateVisit)
	v1.GET("/visits", h.ListVisits)
	v1.GET("/visits/:id", h.GetVisit)
	v1.PUT("/visits/:id", h.UpdateVisit)
	v1.DELETE("/visits/:id", h.DeleteVisit)

	v1.GET("/visits/:id/qr", h.CurrentQR)
	v1.POST("/visits/:id/regenerate-qr", h.RegenerateQR)
	v1.POST("/visits/:id/refresh-qr", h.RefreshQR)
	v1.GET("/visits/:id/qr.png", h.QRImage)
	v1.POST("/visits/:id/qr/publish", h.PublishQR)

	v1.GET("/visits/:id/attendance", h.ListAttendance)
	v1.POST("/visits/:id/attendance/manual", h.MarkManual)
	v1.POST("/visits/:id/checkout", h.CheckOut)
	v1.POST("/visits/:id/feedback", h.SubmitFeedback)
	v1.GET("/visits/:id/feedback", h.ListFeedback)
	v1.GET("/visits/:id/audit", h.AuditTrail)

	admin := v1.Group("/admin", auth.RequireRole(attendance.RoleAdmin))
	admin.POST("/users", h.CreateUser)
}

func studentKey(c *gin.Context) string {
	claims, ok := auth.FromContext(c)
	if !ok {
		return ""
	}
	return "checkin:" + claims.Subject
}

func actorOf(c *gin.Context) attendance.Actor {
	claims, _ := auth.FromContext(c)
	return attendance.Actor{ID: claims.Subject, Role: claims.Role}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Errors ----------

// fail writes err using the API error mapping. Unknown errors are logged
// and hidden behind a 500.
func (h *Handler) fail(c *gin.Context, err error) {
	var ce *attendance.CheckInError
	if errors.As(err, &ce) {
		body := gin.H{"error": ce.Error(), "code": ce.Kind}
		status := http.StatusBadRequest
		switch ce.Kind {
		case attendance.KindTokenNotFound:
			status = http.StatusNotFound
		case attendance.KindTokenExpiredOrInactive:
			status = http.StatusGone
		case attendance.KindOutOfRange:
			status = http.StatusUnprocessableEntity
			body["distance_meters"] = ce.DistanceMeters
			body["allowed_radius_meters"] = ce.AllowedRadiusMeters
		case attendance.KindLocationUnavailable:
			status = http.StatusUnprocessableEntity
		case attendance.KindInvalidCoordinates:
			status = http.StatusBadRequest
		case attendance.KindAlreadyCheckedIn:
			status = http.StatusConflict
		}
		c.JSON(status, body)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, attendance.ErrInvalidInput), errors.Is(err, attendance.ErrStudentRequired):
		status = http.StatusBadRequest
	case errors.Is(err, attendance.ErrInvalidCredentials), errors.Is(err, attendance.ErrInvalidRefresh):
		status = http.StatusUnauthorized
	case errors.Is(err, attendance.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, attendance.ErrVisitNotFound),
		errors.Is(err, attendance.ErrNoActiveToken),
		errors.Is(err, attendance.ErrAttendanceNotFound),
		errors.Is(err, attendance.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrVersionConflict),
		errors.Is(err, attendance.ErrUserExists),
		errors.Is(err, attendance.ErrFeedbackExists),
		errors.Is(err, attendance.ErrAlreadyCheckedOut),
		errors.Is(err, attendance.ErrVisitCompleted),
		errors.Is(err, attendance.ErrVisitNotPending),
		errors.Is(err, attendance.ErrVisitNotStarted),
		errors.Is(err, attendance.ErrVisitStarted),
		errors.Is(err, attendance.ErrNotAttended):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ---------- Auth ----------

func (h *Handler) issue(c *gin.Context, status int, u attendance.User) {
	tokens, err := h.issuer.Issue(u.ID, u.Role)
	if err != nil {
		h.fail(c, fmt.Errorf("issue tokens: %w", err))
		return
	}
	if err := h.svc.SaveRefreshToken(c.Request.Context(), u.ID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.fail(c, fmt.Errorf("save refresh token for %s: %w", u.ID, err))
		return
	}
	c.JSON(status, gin.H{
		"user":          u,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *Handler) Register(c *gin.Context) {
	var req attendance.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.RegisterUser(c.Request.Context(), req, attendance.RoleStudent)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusCreated, u)
}

func (h *Handler) Login(c *gin.Context) {
	var req attendance.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.Authenticate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
}

func (h *Handler) RefreshSession(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.issuer.Parse(req.RefreshToken)
	if err != nil || claims.Kind != auth.KindRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	userID, err := h.svc.RedeemRefreshToken(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, attendance.ErrInvalidRefresh) || (err == nil && userID != claims.Subject) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, attendance.User{ID: claims.Subject, Role: claims.Role})
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		attendance.Credentials
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = attendance.RoleStudent
	}
	u, err := h.svc.RegisterUser(c.Request.Context(), req.Credentials, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// ---------- Check-in ----------

type checkInRequest struct {
	Token    string   `json:"token" binding:"required"`
	GPSLat   *float64 `json:"gpsLat"`
	GPSLng   *float64 `json:"gpsLng"`
	Accuracy *float64 `json:"accuracy"`
}

// CheckIn records the caller's attendance from a scanned code and position.
// A repeated scan answers 200 with the existing record.
func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.GPSLat == nil || req.GPSLng == nil {
		h.fail(c, &attendance.CheckInError{Kind: attendance.KindInvalidCoordinates, Detail: "gpsLat and gpsLng are required"})
		return
	}
	payload, err := qr.Parse(req.Token)
	if err != nil {
		h.fail(c, &attendance.CheckInError{Kind: attendance.KindTokenNotFound})
		return
	}

	rec, err := h.svc.CheckIn(c.Request.Context(), attendance.CheckInRequest{
		Token:     payload.Token,
		VisitID:   payload.VisitID,
		StudentID: actorOf(c).ID,
		Position:  attendance.GPS{Lat: *req.GPSLat, Lng: *req.GPSLng, AccuracyMeters: req.Accuracy},
	})
	if kind, ok := attendance.KindOf(err); ok && kind == attendance.KindAlreadyCheckedIn {
		c.JSON(http.StatusOK, gin.H{"attendance": rec, "already_checked_in": true, "message": err.Error()})
		return
	}
	if kind, ok := attendance.KindOf(err); ok && kind == attendance.KindInvalidCoordinates {
		log.Printf("student %s reported invalid coordinates (%v, %v)", actorOf(c).ID, *req.GPSLat, *req.GPSLng)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attendance": rec, "already_checked_in": false, "message": rec.ValidationMessage})
}

func (h *Handler) CheckOut(c *gin.Context) {
	rec, err := h.svc.CheckOut(c.Request.Context(), actorOf(c).ID, c.Param("id"), time.Time{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) MarkManual(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.svc.MarkManual(c.Request.Context(), actorOf(c), c.Param("id"), req.StudentID, time.Time{})
	if kind, ok := attendance.KindOf(err); ok && kind == attendance.KindAlreadyCheckedIn {
		c.JSON(http.StatusOK, gin.H{"attendance": rec, "already_checked_in": true})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attendance": rec, "already_checked_in": false})
}

func (h *Handler) ListAttendance(c *gin.Context) {
	recs, err := h.svc.ListAttendance(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": recs})
}

// ---------- Visits ----------

func (h *Handler) CreateVisit(c *gin.Context) {
	var req attendance.VisitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.svc.CreateVisit(c.Request.Context(), actorOf(c).ID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVisits(c *gin.Context) {
	visits, err := h.svc.ListVisits(c.Request.Context(), actorOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": visits})
}

func (h *Handler) GetVisit(c *gin.Context) {
	sum, err := h.svc.GetVisit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) UpdateVisit(c *gin.Context) {
	var req attendance.VisitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.svc.UpdateVisit(c.Request.Context(), actorOf(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) DeleteVisit(c *gin.Context) {
	if err := h.svc.DeleteVisit(c.Request.Context(), actorOf(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AuditTrail(c *gin.Context) {
	entries, err := h.svc.AuditTrail(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ---------- QR ----------

func (h *Handler) tokenBody(tok attendance.QRToken) gin.H {
	p := qr.Payload{VisitID: tok.VisitID, Token: tok.Value}
	return gin.H{
		"token":   tok,
		"payload": p.URL(h.opts.QRBaseURL),
	}
}

func (h *Handler) CurrentQR(c *gin.Context) {
	tok, err := h.svc.CurrentToken(c.Request.Context(), actorOf(c), c.Param("id"), time.Time{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tokenBody(tok))
}

func (h *Handler) RegenerateQR(c *gin.Context) {
	tok, err := h.svc.Rotate(c.Request.Context(), actorOf(c), c.Param("id"), time.Time{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.tokenBody(tok))
}

func (h *Handler) RefreshQR(c *gin.Context) {
	tok, err := h.svc.Refresh(c.Request.Context(), actorOf(c), c.Param("id"), time.Time{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tokenBody(tok))
}

func (h *Handler) renderQR(c *gin.Context) (attendance.QRToken, []byte, bool) {
	tok, err := h.svc.CurrentToken(c.Request.Context(), actorOf(c), c.Param("id"), time.Time{})
	if err != nil {
		h.fail(c, err)
		return tok, nil, false
	}
	payload := qr.Payload{VisitID: tok.VisitID, Token: tok.Value}
	png, err := qr.PNG(payload.URL(h.opts.QRBaseURL), h.opts.QRImageSize)
	if err != nil {
		h.fail(c, fmt.Errorf("render qr: %w", err))
		return tok, nil, false
	}
	return tok, png, true
}

func (h *Handler) QRImage(c *gin.Context) {
	_, png, ok := h.renderQR(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// PublishQR uploads the current code image so it can be shown on screens
// that cannot reach the API.
func (h *Handler) PublishQR(c *gin.Context) {
	if h.images == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	tok, png, ok := h.renderQR(c)
	if !ok {
		return
	}
	publicID := fmt.Sprintf("visit-%s", tok.VisitID)
	res, err := h.images.UploadPNG(c.Request.Context(), png, publicID)
	if err != nil {
		log.Printf("publish qr for visit %s failed: %v", tok.VisitID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        res.SecureURL,
		"public_id":  res.PublicID,
		"generation": tok.Generation,
		"expires_at": tok.ExpiresAt,
	})
}

// ---------- Feedback ----------

func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req attendance.FeedbackInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := h.svc.SubmitFeedback(c.Request.Context(), actorOf(c).ID, c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) ListFeedback(c *gin.Context) {
	list, err := h.svc.ListFeedback(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list})
}
