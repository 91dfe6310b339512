package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/ocr"
	"github.com/septivank/webill/internal/service"
	"github.com/septivank/webill/internal/storage"
	"go.uber.org/zap"
)

// formOverhead is the multipart allowance on top of the image itself
const formOverhead = 1 << 20

// Core is the part of the service the API exposes
type Core interface {
	Capture(ctx context.Context, sess auth.Session, in service.CaptureInput) (*service.CaptureResult, error)
	Scan(ctx context.Context, sess auth.Session, img storage.Image) (ocr.Result, error)
	ListReadings(ctx context.Context, sess auth.Session, q service.ReadingQuery) ([]db.Reading, error)
	Decide(ctx context.Context, sess auth.Session, readingID uuid.UUID, d service.Decision) (*db.Reading, error)
	GenerateBill(ctx context.Context, sess auth.Session, readingID uuid.UUID) (*db.Bill, error)
	SetBillPaid(ctx context.Context, sess auth.Session, billID uuid.UUID, paid bool) (*db.Bill, error)
	ListBills(ctx context.Context, sess auth.Session, limit, offset int) ([]db.Bill, error)
	GetSettings(ctx context.Context, sess auth.Session) (service.Settings, error)
	UpdateSettings(ctx context.Context, sess auth.Session, in service.Settings) (service.Settings, error)
	AssignMeter(ctx context.Context, sess auth.Session, meterID, consumerID uuid.UUID) (*db.Meter, error)
	UnassignMeter(ctx context.Context, sess auth.Session, meterID uuid.UUID) error
	MeterQRCode(ctx context.Context, sess auth.Session, meterID uuid.UUID, size int) ([]byte, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Handler serves the WeBill API
type Handler struct {
	core           Core
	verifier       Verifier
	health         HealthCheck
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler creates the API handler. health may be nil.
func NewHandler(core Core, verifier Verifier, health HealthCheck, maxImageBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		core:           core,
		verifier:       verifier,
		health:         health,
		maxUploadBytes: maxImageBytes + formOverhead,
		logger:         logger,
	}
}

// Router builds the gin engine with all routes
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(h.logger), Recovery(h.logger))

	r.GET("/health", h.Health)
	r.GET("/api/v1/health", h.Health)

	api := r.Group("/api/v1", Authenticate(h.verifier))
	api.POST("/readings", h.CaptureReading)
	api.POST("/readings/scan", h.ScanReading)
	api.GET("/readings", h.ListReadings)
	api.GET("/bills", h.ListBills)

	admin := api.Group("/admin", RequireAdmin())
	admin.POST("/readings/:id/decision", h.DecideReading)
	admin.POST("/readings/:id/bill", h.GenerateBill)
	admin.PATCH("/bills/:id/paid", h.SetBillPaid)
	admin.GET("/settings", h.GetSettings)
	admin.PUT("/settings", h.UpdateSettings)
	admin.PUT("/meters/:id/assignment", h.AssignMeter)
	admin.DELETE("/meters/:id/assignment", h.UnassignMeter)
	admin.GET("/meters/:id/qr", h.MeterQRCode)

	return r
}

// Health reports liveness and reachability of the database and broker
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			fail(c, http.StatusServiceUnavailable, "UNHEALTHY", service.KindUnavailable.String(), "dependency unreachable")
			return
		}
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
