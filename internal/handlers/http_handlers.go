package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"giveaway/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the giveaway service.
type HTTPHandler struct {
	service *services.GiveawayService
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(service *services.GiveawayService) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// chanceRequest is the body of add and set requests.
type chanceRequest struct {
	Value *int64 `json:"value"`
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)

	chances := router.Group("/chances")
	chances.GET("", h.ListChances)
	chances.DELETE("", h.ClearChances)
	chances.POST("/import", h.ImportCSV)
	chances.GET("/export", h.ExportCSV)
	chances.GET("/:userID", h.GetChance)
	chances.PUT("/:userID", h.SetChance)
	chances.DELETE("/:userID", h.RemoveUser)
	chances.POST("/:userID/add", h.AddChance)

	router.POST("/draw", h.PerformDraw)
	router.GET("/draws", h.ListDraws)
	router.DELETE("/draws", h.ClearDraws)
}

// Health reports that the process is serving requests.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return userID, true
}

func storageFailure(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// ListChances returns every user's chance keyed by user id.
func (h *HTTPHandler) ListChances(c *gin.Context) {
	snapshot, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		storageFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chances": snapshot})
}

// GetChance returns a single user's chance.
func (h *HTTPHandler) GetChance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	chance, found, err := h.service.Chance(c.Request.Context(), userID)
	if err != nil {
		storageFailure(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "user has no chance record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "chance": chance})
}

// AddChance increments a user's chance. An empty body adds 1.
func (h *HTTPHandler) AddChance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	value := int64(1)
	var req chanceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Value != nil {
		value = *req.Value
	}

	if err := h.service.AddChance(c.Request.Context(), userID, value); err != nil {
		storageFailure(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetChance overwrites a user's chance. The value is required.
func (h *HTTPHandler) SetChance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req chanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}

	if err := h.service.SetChance(c.Request.Context(), userID, *req.Value); err != nil {
		storageFailure(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveUser deletes a user's record; unknown users are not an error.
func (h *HTTPHandler) RemoveUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	if err := h.service.RemoveUser(c.Request.Context(), userID); err != nil {
		storageFailure(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearChances removes every user.
func (h *HTTPHandler) ClearChances(c *gin.Context) {
	if err := h.service.Clear(c.Request.Context()); err != nil {
		storageFailure(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ImportCSV handles the CSV upload of "user_id,chance" rows.
func (h *HTTPHandler) ImportCSV(c *gin.Context) {
	file, _, err := c.Request.FormFile("chancesCSV")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving file: " + err.Error()})
		return
	}
	defer file.Close()

	applied, err := h.service.ImportCSV(c.Request.Context(), file)
	if err != nil {
		logger.Infof("Error importing CSV after %d rows: %v", applied, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "applied": applied})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// ExportCSV handles the request to download the chances as a CSV file.
func (h *HTTPHandler) ExportCSV(c *gin.Context) {
	// Buffer first so a storage error can still produce a proper status.
	buf := new(bytes.Buffer)
	if err := h.service.ExportCSV(c.Request.Context(), buf); err != nil {
		logger.Infof("Error exporting CSV: %v", err)
		storageFailure(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment;filename=chances.csv")
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

// PerformDraw draws a winner from the current chances.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	result, err := h.service.Draw(c.Request.Context())
	if errors.Is(err, services.ErrNoParticipants) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		storageFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDraws returns the draws made since the process started.
func (h *HTTPHandler) ListDraws(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"draws": h.service.Results()})
}

// ClearDraws forgets the draw history. Stored chances are untouched.
func (h *HTTPHandler) ClearDraws(c *gin.Context) {
	h.service.ClearResults()
	c.Status(http.StatusNoContent)
}
