package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"

	"github.com/dmoreno/subsidy-registry/internal/auth"
	"github.com/dmoreno/subsidy-registry/internal/config"
	"github.com/dmoreno/subsidy-registry/internal/db"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
	"github.com/dmoreno/subsidy-registry/internal/etl"
)

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Engine      *equivalence.Engine
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	Settings    *config.Settings

	// Background sync tracking: one run at a time.
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(pool *pgxpool.Pool, cfg *config.Settings, engine *equivalence.Engine) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		DB:          pool,
		Store:       db.NewStore(pool),
		AuthService: auth.NewService(pool),
		Engine:      engine,
		Echo:        e,
		Settings:    cfg,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")

	// Auth
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/refresh", s.handleRefresh)

	// Public registry data
	api.GET("/awards", s.handleListAwards)
	api.GET("/awards/:id", s.handleGetAward)
	api.GET("/beneficiaries/:nif/awards", s.handleBeneficiaryAwards)
	api.GET("/stats", s.handleGetStats)
	api.POST("/equivalence", s.handleComputeEquivalence)

	// Authenticated
	protected := api.Group("")
	protected.Use(auth.Middleware)
	protected.POST("/minimis/check", s.handleMinimisCheck)

	// Admin
	admin := api.Group("")
	admin.Use(auth.Middleware, auth.RequireAdmin)
	admin.POST("/sync", s.handleTriggerSync)
	admin.GET("/sync/runs", s.handleListSyncRuns)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Auth handlers

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidCreds):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "username, email and password are required"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) || errors.Is(err, auth.ErrInactiveUser) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req auth.RefreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "refresh_token is required"})
	}

	pair, err := s.AuthService.Refresh(req)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
	}
	return c.JSON(http.StatusOK, pair)
}

// Registry data handlers

func (s *Server) handleListAwards(c echo.Context) error {
	params := db.AwardListParams{
		BeneficiaryNIF: c.QueryParam("nif"),
		RegistryCode:   c.QueryParam("registry_code"),
		AidRegime:      c.QueryParam("regime"),
		Instrument:     c.QueryParam("instrument"),
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		params.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		params.Offset = v
	}
	if t, err := time.Parse("2006-01-02", c.QueryParam("from")); err == nil {
		params.FromDate = &t
	}
	if t, err := time.Parse("2006-01-02", c.QueryParam("to")); err == nil {
		params.ToDate = &t
	}

	result, err := s.Store.ListAwards(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list awards: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetAward(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid award ID"})
	}

	award, err := s.Store.GetAward(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, award)
}

func (s *Server) handleBeneficiaryAwards(c echo.Context) error {
	nif := c.Param("nif")
	ctx := c.Request().Context()

	beneficiary, err := s.Store.GetBeneficiaryByNIF(ctx, nif)
	if errors.Is(err, db.ErrBeneficiaryNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown beneficiary"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	params := db.AwardListParams{BeneficiaryNIF: nif}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		params.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		params.Offset = v
	}
	awards, err := s.Store.ListAwards(ctx, params)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"beneficiary": beneficiary,
		"awards":      awards,
	})
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// Equivalence handlers

type equivalenceRequest struct {
	Nominal        decimal.Decimal        `json:"nominal"`
	GrantDate      string                 `json:"grant_date"`
	Instrument     string                 `json:"instrument"`
	InstrumentMeta map[string]interface{} `json:"instrument_meta"`
}

func (s *Server) handleComputeEquivalence(c echo.Context) error {
	var req equivalenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	grantDate, err := time.Parse("2006-01-02", req.GrantDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "grant_date must be YYYY-MM-DD"})
	}

	inst, err := equivalence.FromMetadata(equivalence.KindFromString(req.Instrument), req.InstrumentMeta)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	result, err := s.Engine.ComputeEquivalent(c.Request().Context(), equivalence.Request{
		Nominal:    req.Nominal,
		GrantDate:  grantDate,
		Instrument: inst,
	})
	if err != nil {
		return c.JSON(equivalenceStatus(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

type minimisCheckRequest struct {
	BeneficiaryNIF string          `json:"beneficiary_nif"`
	Proposed       decimal.Decimal `json:"proposed"`
	GrantDate      string          `json:"grant_date"`
	Sector         string          `json:"sector"`
}

func (s *Server) handleMinimisCheck(c echo.Context) error {
	var req minimisCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	grantDate, err := time.Parse("2006-01-02", req.GrantDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "grant_date must be YYYY-MM-DD"})
	}

	ctx := c.Request().Context()
	beneficiary, err := s.Store.GetBeneficiaryByNIF(ctx, req.BeneficiaryNIF)
	if errors.Is(err, db.ErrBeneficiaryNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown beneficiary"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	check, err := s.Engine.CheckBeneficiary(ctx, beneficiary.ID.String(), req.Proposed, grantDate, req.Sector)
	if err != nil {
		return c.JSON(equivalenceStatus(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, check)
}

// equivalenceStatus maps engine errors to HTTP codes. DataUnavailable is 422:
// the request was well-formed but the regulatory inputs cannot support an
// answer, and guessing is not an option.
func equivalenceStatus(err error) int {
	switch {
	case errors.Is(err, equivalence.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, equivalence.ErrUnsupportedInstrument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, equivalence.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Admin handlers

func (s *Server) handleTriggerSync(c echo.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A sync is already running",
			"job_id": job.ID,
		})
	}

	months := s.Settings.SyncWindowMonths
	if raw := c.QueryParam("months"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 120 {
			months = parsed
		}
	}
	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, -months, 0)

	// context.WithoutCancel detaches from the HTTP lifecycle but preserves
	// trace values. The timeout bounds runaway syncs.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 30*time.Minute,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	client := etl.NewClient(s.Settings.RegistryAPIBase, s.Settings.RegistryPageSize, s.Settings.HTTPTimeout, s.Settings.MaxRetries)
	pipeline := etl.NewPipeline(s.Store, s.Engine, client)

	go func() {
		defer jobCancel()
		stats, err := pipeline.Sync(jobCtx, from, to)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[sync-job %s] failed: %v", jobID, err)
			return
		}
		job.Status = "completed"
		job.Result = stats
		log.Printf("[sync-job %s] completed: processed=%d errors=%d", jobID, stats.Processed, stats.Errors)
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Sync started",
		"job_id":  jobID,
		"window":  map[string]string{"from": from.Format("2006-01-02"), "to": to.Format("2006-01-02")},
	})
}

func (s *Server) handleListSyncRuns(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		limit = v
	}
	runs, err := s.Store.ListEtlRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.jobMu.Lock()
	job := s.runningJob
	s.jobMu.Unlock()

	resp := map[string]interface{}{"runs": runs}
	if job != nil {
		resp["current_job"] = job
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
