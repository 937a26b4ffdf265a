// Package api exposes the analysis pipeline over HTTP. Tenancy comes
// from the X-Tenant-ID header on every request; handlers never trust
// tenant identifiers in the body.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clausecheck/internal/analysis"
	"clausecheck/internal/logging"
	"clausecheck/internal/types"
)

// =============================================================================
// HTTP SERVER
// =============================================================================

const tenantHeader = "X-Tenant-ID"

// Server is the HTTP surface over the analysis service.
type Server struct {
	svc    *analysis.Service
	engine *gin.Engine
}

// NewServer builds the router.
func NewServer(svc *analysis.Service) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{svc: svc, engine: engine}

	engine.GET("/healthz", s.health)

	v1 := engine.Group("/v1", requireTenant())
	{
		v1.POST("/documents/:documentId/analyses", s.startAnalysis)
		v1.GET("/documents/:documentId/analyses/:analysisId", s.getAnalysis)
		v1.GET("/documents/:documentId/analyses/:analysisId/findings", s.getFindings)
		v1.GET("/documents/:documentId/analyses/:analysisId/risk", s.getRisk)
	}

	return s
}

// Handler returns the http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	logging.Get(logging.CategoryServer).Info("HTTP server listening on %s", addr)
	return s.engine.Run(addr)
}

// requestLogger logs each request to the server category.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Get(logging.CategoryServer).Info("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// requireTenant rejects requests without a tenant identity.
func requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(tenantHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + tenantHeader + " header",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// startAnalysisRequest is the optional POST body: document-level hints
// handed to the verification agent.
type startAnalysisRequest struct {
	ContractorName string `json:"contractor_name"`
	ProjectName    string `json:"project_name"`
	State          string `json:"state"`
}

// startAnalysis launches an analysis and returns 202 with its id.
func (s *Server) startAnalysis(c *gin.Context) {
	var req startAnalysisRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	id, err := s.svc.StartAnalysis(c.Request.Context(),
		c.GetHeader(tenantHeader), c.Param("documentId"),
		types.ContractContext{
			ContractorName: req.ContractorName,
			ProjectName:    req.ProjectName,
			State:          req.State,
		})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"analysis_id": id})
}

// loadAnalysis fetches the analysis and enforces tenant ownership.
// A mismatched tenant gets the same 404 as a missing analysis so ids
// cannot be probed across tenants.
func (s *Server) loadAnalysis(c *gin.Context) (*types.Analysis, bool) {
	a, err := s.svc.GetAnalysis(c.Request.Context(), c.Param("documentId"), c.Param("analysisId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if a == nil || a.TenantID != c.GetHeader(tenantHeader) {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return nil, false
	}
	return a, true
}

func (s *Server) getAnalysis(c *gin.Context) {
	a, ok := s.loadAnalysis(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) getFindings(c *gin.Context) {
	a, ok := s.loadAnalysis(c)
	if !ok {
		return
	}

	findings, err := s.svc.GetFindings(c.Request.Context(), c.Param("documentId"), c.Param("analysisId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_id": a.ID,
		"status":      a.Status,
		"findings":    findings,
	})
}

func (s *Server) getRisk(c *gin.Context) {
	a, ok := s.loadAnalysis(c)
	if !ok {
		return
	}
	if !a.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "analysis still running"})
		return
	}

	risk, err := s.svc.RiskScore(c.Request.Context(), c.Param("documentId"), c.Param("analysisId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_id": a.ID,
		"status":      a.Status,
		"risk_score":  risk,
		"summary":     a.Summary,
	})
}
