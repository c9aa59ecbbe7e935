package httpapi

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cmmsd/internal/maintenance"
	"cmmsd/internal/recurrence"
	"cmmsd/internal/storage"
	logx "cmmsd/pkg/logx"
)

// Engine is the part of the recurrence engine the API drives.
type Engine interface {
	Run(ctx context.Context, trigger string) (recurrence.Report, error)
	LastReport() (recurrence.Report, bool)
	Today() maintenance.Date
}

// Store is the part of the store the API reads and updates.
type Store interface {
	ListWorkOrders(ctx context.Context, f storage.WorkOrderFilter) ([]maintenance.WorkOrder, error)
	SetWorkOrderStatus(ctx context.Context, id int64, st maintenance.Status, at maintenance.Date) error
	LastCycleRun(ctx context.Context) (storage.CycleRun, bool, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Engine   Engine
	Store    Store
	Gatherer prometheus.Gatherer
	Log      logx.Logger
}

const defaultListLimit = 100

// NewRouter builds the gin engine. /healthz is always public; everything
// else requires the bearer token when one is configured.
func NewRouter(cfg Config, d Deps) *gin.Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	cfg = cfg.withDefaults()
	h := &handlers{cfg: cfg, d: d}

	r := gin.New()
	r.Use(recoveryMiddleware(d.Log), requestLogMiddleware(d.Log))
	r.GET("/healthz", h.health)

	auth := r.Group("/", authMiddleware(cfg.Token))
	auth.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	v1 := auth.Group("/api/v1")
	v1.POST("/cycles", h.runCycle)
	v1.GET("/cycles/last", h.lastCycle)
	v1.GET("/workorders", h.listWorkOrders)
	v1.PUT("/workorders/:id/status", h.setStatus)

	if cfg.Pprof {
		auth.Any("/debug/pprof/*name", pprofHandler)
	}
	return r
}

type handlers struct {
	cfg Config
	d   Deps
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.d.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) runCycle(c *gin.Context) {
	// A disconnecting client must not cut the cycle short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.cfg.CycleTimeout)
	defer cancel()
	rep, err := h.d.Engine.Run(ctx, recurrence.TriggerHTTP)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	status := http.StatusOK
	if rep.SkippedLocked {
		status = http.StatusConflict
	}
	c.JSON(status, rep)
}

func (h *handlers) lastCycle(c *gin.Context) {
	if rep, ok := h.d.Engine.LastReport(); ok {
		c.JSON(http.StatusOK, rep)
		return
	}
	run, ok, err := h.d.Store.LastCycleRun(c.Request.Context())
	switch {
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case !ok:
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has run yet"})
	default:
		c.JSON(http.StatusOK, run)
	}
}

func (h *handlers) listWorkOrders(c *gin.Context) {
	f := storage.WorkOrderFilter{Limit: defaultListLimit}
	if v := c.Query("status"); v != "" {
		st, err := maintenance.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Status = st
	}
	if v := c.Query("schedule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule_id"})
			return
		}
		f.ScheduleID = id
	}
	if v := c.Query("due_before"); v != "" {
		d, err := maintenance.ParseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.DueBefore = &d
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		f.Limit = n
	}
	out, err := h.d.Store.ListWorkOrders(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if out == nil {
		out = []maintenance.WorkOrder{}
	}
	c.JSON(http.StatusOK, gin.H{"work_orders": out, "count": len(out)})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *handlers) setStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work order id"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := maintenance.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err = h.d.Store.SetWorkOrderStatus(c.Request.Context(), id, st, h.d.Engine.Today())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "work order not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"id": id, "status": st})
	}
}

func pprofHandler(c *gin.Context) {
	switch strings.TrimPrefix(c.Param("name"), "/") {
	case "cmdline":
		hpprof.Cmdline(c.Writer, c.Request)
	case "profile":
		hpprof.Profile(c.Writer, c.Request)
	case "symbol":
		hpprof.Symbol(c.Writer, c.Request)
	case "trace":
		hpprof.Trace(c.Writer, c.Request)
	default:
		hpprof.Index(c.Writer, c.Request)
	}
}

func authMiddleware(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			ah := c.GetHeader("Authorization")
			if after, ok := strings.CutPrefix(ah, "Bearer "); ok {
				got = strings.TrimSpace(after)
			}
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func recoveryMiddleware(log logx.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		log.Error("http handler panic", logx.String("path", c.Request.URL.Path), logx.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

func requestLogMiddleware(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
