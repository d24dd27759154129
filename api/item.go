package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/handlers"
	"example.com/tradepost/services/item/models"
	"example.com/tradepost/services/item/repositories"
)

// ItemResponse is the API representation of an item.
type ItemResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ImageURLs   []string  `json:"image_urls"`
	LocationLat float64   `json:"location_lat"`
	LocationLon float64   `json:"location_lon"`
	OwnerID     string    `json:"owner_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

// UpdateItemRequest is the body of an item update.
type UpdateItemRequest struct {
	Changes  map[string]interface{} `json:"changes"`
	Metadata map[string]string      `json:"metadata"`
}

// ChangeStatusRequest is the body of a status change.
type ChangeStatusRequest struct {
	NewStatus string            `json:"new_status"`
	Reason    string            `json:"reason"`
	Metadata  map[string]string `json:"metadata"`
}

func itemResponseFromDomain(item *domain.Item) ItemResponse {
	return ItemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		ImageURLs:   item.ImageURLs,
		LocationLat: item.LocationLat,
		LocationLon: item.LocationLon,
		OwnerID:     item.OwnerID,
		Status:      item.Status,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		Version:     item.Version,
	}
}

func itemResponseFromModel(item *models.Item) ItemResponse {
	return ItemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		ImageURLs:   item.ImageURLList(),
		LocationLat: item.LocationLat,
		LocationLon: item.LocationLon,
		OwnerID:     item.OwnerID,
		Status:      item.Status,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		Version:     item.Version,
	}
}

func itemResponsesFromModels(items []models.Item) []ItemResponse {
	responses := make([]ItemResponse, 0, len(items))
	for i := range items {
		responses = append(responses, itemResponseFromModel(&items[i]))
	}
	return responses
}

// respondWithError maps domain errors to HTTP status codes.
func respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseItemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item ID"})
		return 0, false
	}
	return id, true
}

func requireUserID(c *gin.Context) (string, bool) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + userIDHeader + " header"})
		return "", false
	}
	return userID, true
}

// createItem creates a new item
func (s *Server) createItem(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var cmd handlers.CreateItemCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd.OwnerID = userID

	item, err := s.itemHandler.HandleCreateItem(c.Request.Context(), cmd)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, itemResponseFromDomain(item))
}

// updateItem applies field changes to an item
func (s *Server) updateItem(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := s.itemHandler.HandleUpdateItem(c.Request.Context(), handlers.UpdateItemCommand{
		ItemID:   id,
		UserID:   userID,
		Changes:  req.Changes,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponseFromDomain(item))
}

// changeItemStatus moves an item to a new status
func (s *Server) changeItemStatus(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := s.itemHandler.HandleChangeItemStatus(c.Request.Context(), handlers.ChangeItemStatusCommand{
		ItemID:    id,
		UserID:    userID,
		NewStatus: req.NewStatus,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponseFromDomain(item))
}

// deleteItem archives an item
func (s *Server) deleteItem(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	item, err := s.itemHandler.HandleDeleteItem(c.Request.Context(), handlers.DeleteItemCommand{
		ItemID: id,
		UserID: userID,
		Reason: c.Query("reason"),
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponseFromDomain(item))
}

// getItem returns a single item from the read model
func (s *Server) getItem(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}

	item, err := s.queryService.GetItem(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponseFromModel(item))
}

// searchItems searches the read model
func (s *Server) searchItems(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := s.queryService.SearchItems(c.Request.Context(), repositories.SearchQuery{
		Term:     c.Query("q"),
		Category: c.Query("category"),
		Status:   c.Query("status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": itemResponsesFromModels(items)})
}

// getItemsByOwner returns an owner's items
func (s *Server) getItemsByOwner(c *gin.Context) {
	items, err := s.queryService.GetItemsByOwner(c.Request.Context(), c.Param("owner_id"), c.Query("status"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": itemResponsesFromModels(items)})
}

// getStats returns read-model counts
func (s *Server) getStats(c *gin.Context) {
	stats, err := s.queryService.GetStats(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getItemHistory returns the item's full event stream
func (s *Server) getItemHistory(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}

	history, err := s.replayEngine.History(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": id, "events": history})
}

// getItemAuditTrail returns field-level changes for the item
func (s *Server) getItemAuditTrail(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}

	trail, err := s.replayEngine.AuditTrail(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": id, "changes": trail})
}

// timeTravelItem folds the item's state as of a past instant
func (s *Server) timeTravelItem(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}

	asOf, err := time.Parse(time.RFC3339, c.Query("at"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing 'at' timestamp, expected RFC3339"})
		return
	}

	item, err := s.replayEngine.TimeTravel(c.Request.Context(), id, asOf)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"as_of": asOf, "item": itemResponseFromDomain(item)})
}

// rebuildItem refolds the item's stream and overwrites its read model row
func (s *Server) rebuildItem(c *gin.Context) {
	id, ok := parseItemID(c)
	if !ok {
		return
	}

	item, err := s.replayEngine.Rebuild(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponseFromDomain(item))
}
