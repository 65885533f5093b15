package guildsync

import (
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/models"
	"bitbucket.org/mmdatafocus/guildsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func StatusHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		counts, err := models.CountSyncRecordsByStatus(ctx, engine.DB, engine.GuildId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out := make(map[string]int64, len(counts))
		for status, total := range counts {
			out[string(status)] = total
		}
		cacheSize := 0
		if engine.Cache != nil {
			cacheSize = engine.Cache.Len()
		}
		c.JSON(http.StatusOK, StatusResponse{
			GuildId:          engine.GuildId,
			FallbackParentId: config.GetFallbackParentId(),
			Counts:           out,
			MappingCacheSize: cacheSize,
		})
	}
}

func SyncRecordsHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListSyncRecordsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		recs, err := models.ListSyncRecords(c.Request.Context(), engine.DB, engine.GuildId,
			models.SyncEntityType(q.EntityType), models.SyncStatus(q.Status), q.Limit, q.Offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRecordResponse, 0, len(recs))
		for _, rec := range recs {
			items = append(items, mapRecordToResponse(rec))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func SyncRecordDetailHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		entityType := models.SyncEntityType(c.Param("entityType"))
		if !entityType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity type"})
			return
		}
		entityId := c.Param("entityId")
		if _, err := strconv.Atoi(entityId); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
			return
		}

		rec, err := models.LatestSyncRecord(c.Request.Context(), engine.DB, entityId, entityType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, mapRecordToResponse(*rec))
	}
}

// RetrySyncRecordHandler moves a ledger row back to pending and re-enqueues
// a key-only change event, so the retry diffs against live remote state.
func RetrySyncRecordHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		entityType := models.SyncEntityType(c.Param("entityType"))
		if !entityType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity type"})
			return
		}
		id, err := strconv.Atoi(c.Param("entityId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
			return
		}
		entityId := strconv.Itoa(id)

		ctx := c.Request.Context()
		rec, err := models.LatestSyncRecord(ctx, engine.DB, entityId, entityType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		correlationId := uuid.NewString()
		data := models.DecodeSyncRecordData(rec.DataJSON)
		data.Error = ""
		data.RetryAt = nil
		data.CorrelationId = correlationId
		if err := models.RecordSyncOutcome(ctx, engine.DB, entityId, entityType, engine.GuildId, models.SyncStatusPending, data); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		after := utils.MustMarshal(map[string]int{"id": id})
		ev := ChangeEvent{
			EntityType:    entityType,
			Operation:     OpUpdate,
			After:         after,
			GuildId:       engine.GuildId,
			CorrelationId: correlationId,
		}
		if err := PublishChangeEvent(ctx, ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"correlationId": correlationId})
	}
}

func mapRecordToResponse(rec models.SyncRecord) SyncRecordResponse {
	data := models.DecodeSyncRecordData(rec.DataJSON)
	resp := SyncRecordResponse{
		EntityId:      rec.EntityId,
		EntityType:    string(rec.EntityType),
		SyncStatus:    string(rec.SyncStatus),
		RemoteId:      data.RemoteId,
		Error:         data.Error,
		Discrepancies: data.Discrepancies,
		LastSyncedAt:  formatTime(rec.LastSyncedAt),
	}
	if data.RetryAt != nil {
		resp.RetryAt = formatTime(data.RetryAt)
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
