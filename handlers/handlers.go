package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"signalement-service/models"
	"signalement-service/realtime"
	"signalement-service/recordstore"
	"signalement-service/services"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

// ReportsHandler serves the report CRUD surface on top of the dual-store
// accessor, plus the directory resources that only live in the record store.
type ReportsHandler struct {
	accessor *services.Accessor
	records  *recordstore.Client
}

func NewReportsHandler(accessor *services.Accessor, records *recordstore.Client) *ReportsHandler {
	return &ReportsHandler{
		accessor: accessor,
		records:  records,
	}
}

// HealthCheck returns a simple health status
func (h *ReportsHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "signalement-service",
	})
}

func (h *ReportsHandler) ListReports(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.accessor.ListReports(c.Request.Context(), filter)
	if errors.Is(err, services.ErrBothStoresUnavailable) {
		// The console shows a banner over an empty list instead of failing.
		log.Errorf("Listing reports in degraded mode: %v", err)
		c.JSON(http.StatusOK, gin.H{"reports": reports, "count": 0, "degraded": true})
		return
	}
	if err != nil {
		log.Errorf("Error listing reports: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (h *ReportsHandler) GetReport(c *gin.Context) {
	report, err := h.accessor.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *ReportsHandler) CreateReport(c *gin.Context) {
	args := &models.CreateReportRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to bind create report request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	report, err := h.accessor.CreateReport(c.Request.Context(), *args, c.GetString("user_email"))
	if err != nil {
		log.Errorf("Error creating report: %v", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, report)
}

func (h *ReportsHandler) UpdateReport(c *gin.Context) {
	args := &models.UpdateReportRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to bind update report request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	report, err := h.accessor.UpdateReport(c.Request.Context(), c.Param("id"), *args)
	if err != nil {
		log.Errorf("Error updating report %s: %v", c.Param("id"), err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *ReportsHandler) DeleteReport(c *gin.Context) {
	if err := h.accessor.DeleteReport(c.Request.Context(), c.Param("id")); err != nil {
		log.Errorf("Error deleting report %s: %v", c.Param("id"), err)
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History returns the status transition log kept by the record store.
func (h *ReportsHandler) History(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "history requires a numeric report id"})
		return
	}

	entries, err := h.records.History(c.Request.Context(), id)
	if err != nil {
		log.Errorf("Error fetching history for report %d: %v", id, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

func (h *ReportsHandler) Statistics(c *gin.Context) {
	stats, err := h.accessor.Statistics(c.Request.Context())
	if err != nil {
		log.Errorf("Error computing statistics: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ExportGeoJSON renders all reports as a point feature collection for the
// console map layer.
func (h *ReportsHandler) ExportGeoJSON(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.accessor.ListReports(c.Request.Context(), filter)
	if err != nil {
		log.Errorf("Error listing reports for export: %v", err)
		respondError(c, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, r := range reports {
		f := geojson.NewPointFeature([]float64{r.Longitude, r.Latitude})
		if r.ID != 0 {
			f.SetProperty("id", r.ID)
		}
		if r.ReplicaKey != "" {
			f.SetProperty("replica_key", r.ReplicaKey)
		}
		f.SetProperty("location", r.Location)
		f.SetProperty("status", string(r.Status))
		f.SetProperty("description", r.Description)
		if progress, known := r.Status.Progress(); known {
			f.SetProperty("progress", progress)
		}
		fc.AddFeature(f)
	}

	c.JSON(http.StatusOK, fc)
}

func (h *ReportsHandler) ListUsers(c *gin.Context) {
	users, err := h.records.ListUsers(c.Request.Context())
	if err != nil {
		log.Errorf("Error listing users: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (h *ReportsHandler) ListCompanies(c *gin.Context) {
	companies, err := h.records.ListCompanies(c.Request.Context())
	if err != nil {
		log.Errorf("Error listing companies: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"companies": companies, "count": len(companies)})
}

// filterFromQuery parses the optional status and viewport query params.
func filterFromQuery(c *gin.Context) (*services.ListFilter, error) {
	filter := &services.ListFilter{}
	hasAny := false

	if status, ok := c.GetQuery("status"); ok {
		filter.Status = models.NormalizeStatus(status)
		hasAny = true
	}

	latMinStr, hasLatMin := c.GetQuery("sw_lat")
	lonMinStr, hasLonMin := c.GetQuery("sw_lon")
	latMaxStr, hasLatMax := c.GetQuery("ne_lat")
	lonMaxStr, hasLonMax := c.GetQuery("ne_lon")

	if hasLatMin && hasLatMax && hasLonMin && hasLonMax {
		latMin, err := strconv.ParseFloat(latMinStr, 64)
		if err != nil {
			return nil, errors.New("invalid sw_lat parameter")
		}
		lonMin, err := strconv.ParseFloat(lonMinStr, 64)
		if err != nil {
			return nil, errors.New("invalid sw_lon parameter")
		}
		latMax, err := strconv.ParseFloat(latMaxStr, 64)
		if err != nil {
			return nil, errors.New("invalid ne_lat parameter")
		}
		lonMax, err := strconv.ParseFloat(lonMaxStr, 64)
		if err != nil {
			return nil, errors.New("invalid ne_lon parameter")
		}
		filter.Bounds = services.BoundsFromDegrees(latMin, lonMin, latMax, lonMax)
		hasAny = true
	}

	if !hasAny {
		return nil, nil
	}
	return filter, nil
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var validation *recordstore.ValidationError

	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	case errors.Is(err, recordstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, recordstore.ErrAuthExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired, please log in again"})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message})
	case errors.Is(err, services.ErrOffline):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device is offline"})
	case errors.Is(err, realtime.ErrUnreachable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "replica store unreachable"})
	case errors.Is(err, services.ErrBothStoresUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "both stores unavailable"})
	case errors.Is(err, recordstore.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
