package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"signalement-service/database"
	"signalement-service/services"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// SyncHandler exposes the manual reconciliation trigger and its status.
type SyncHandler struct {
	syncer *services.Syncer
	prober services.Prober
	audit  *database.Service
}

func NewSyncHandler(syncer *services.Syncer, prober services.Prober, audit *database.Service) *SyncHandler {
	return &SyncHandler{
		syncer: syncer,
		prober: prober,
		audit:  audit,
	}
}

// TriggerSync starts a reconciliation run and blocks until it finishes.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	operator := c.GetString("user_email")

	result, err := h.syncer.RunSync(c.Request.Context(), operator)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "a synchronization is already running"})
		case errors.Is(err, services.ErrOffline):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device is offline"})
		default:
			log.Errorf("Synchronization triggered by %s failed: %v", operator, err)
			respondError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SyncHandler) SyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.syncer.Status())
}

// SyncHistory returns the most recent audited reconciliation runs.
func (h *SyncHandler) SyncHistory(c *gin.Context) {
	limit := 20
	if raw, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = parsed
	}

	entries, err := h.audit.SyncHistory(c.Request.Context(), limit)
	if err != nil {
		log.Errorf("Failed to load sync history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": entries, "count": len(entries)})
}

// CheckConnectivity reports the probe verdict without touching either store.
func (h *SyncHandler) CheckConnectivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.prober.IsOnline()})
}
