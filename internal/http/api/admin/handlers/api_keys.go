package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/vortixworld/bypassgate/internal/http/respond"
	"github.com/vortixworld/bypassgate/internal/keys"
	"github.com/vortixworld/bypassgate/internal/models"
)

// KeyManager is the subset of keys.Manager used by the admin handlers.
type KeyManager interface {
	Create(ctx context.Context, kind models.QuotaKind, value int64) (string, models.KeyRecord, error)
	Delete(ctx context.Context, token string) error
	Expire(ctx context.Context, token string) error
	List(ctx context.Context) ([]keys.KeyView, error)
}

// APIKeyHandler manages admin API key endpoints.
type APIKeyHandler struct {
	keys KeyManager
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(manager KeyManager) *APIKeyHandler {
	return &APIKeyHandler{keys: manager}
}

// Create issues a new request or monthly key.
func (h *APIKeyHandler) Create(c *gin.Context) {
	kind := models.QuotaKind(respond.BodyString(c, "type"))
	if !kind.Valid() {
		respond.Error(c, http.StatusBadRequest, "Invalid type")
		return
	}
	value, ok := parseQuotaValue(respond.BodyField(c, "value"))
	if !ok {
		respond.Error(c, http.StatusBadRequest, "Invalid value")
		return
	}

	token, _, errCreate := h.keys.Create(c.Request.Context(), kind, value)
	if errCreate != nil {
		switch {
		case errors.Is(errCreate, keys.ErrInvalidType):
			respond.Error(c, http.StatusBadRequest, "Invalid type")
		case errors.Is(errCreate, keys.ErrInvalidValue):
			respond.Error(c, http.StatusBadRequest, "Invalid value")
		case errors.Is(errCreate, keys.ErrMonthsExceeded):
			respond.Error(c, http.StatusBadRequest, "Max 12 months")
		default:
			respond.Error(c, http.StatusInternalServerError, errCreate.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "apiKey": token})
}

// Delete removes a key and its index entry.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	token := respond.BodyString(c, "apiKey")
	if token == "" {
		respond.Error(c, http.StatusBadRequest, "Missing apiKey")
		return
	}
	if errDelete := h.keys.Delete(c.Request.Context(), token); errDelete != nil {
		respond.Error(c, http.StatusInternalServerError, errDelete.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Expire forces a key into the expired state.
func (h *APIKeyHandler) Expire(c *gin.Context) {
	token := respond.BodyString(c, "apiKey")
	if token == "" {
		respond.Error(c, http.StatusBadRequest, "Missing apiKey")
		return
	}
	if errExpire := h.keys.Expire(c.Request.Context(), token); errExpire != nil {
		if errors.Is(errExpire, keys.ErrKeyNotFound) {
			respond.Error(c, http.StatusNotFound, "Key not found")
			return
		}
		respond.Error(c, http.StatusInternalServerError, errExpire.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// List returns every issued key with its derived status.
func (h *APIKeyHandler) List(c *gin.Context) {
	views, errList := h.keys.List(c.Request.Context())
	if errList != nil {
		respond.Error(c, http.StatusInternalServerError, errList.Error())
		return
	}
	out := make([]gin.H, 0, len(views))
	for _, view := range views {
		out = append(out, gin.H{
			"key":        view.Token,
			"type":       view.Record.Type,
			"remaining":  view.Record.Remaining,
			"expiration": view.Record.Expiration,
			"created":    view.Record.Created,
			"usage":      view.Record.Usage,
			"status":     view.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "keys": out})
}

// parseQuotaValue accepts a JSON number or a numeric string and truncates it
// to a whole count. Values below one are rejected.
func parseQuotaValue(field gjson.Result) (int64, bool) {
	var f float64
	switch field.Type {
	case gjson.Number:
		f = field.Num
	case gjson.String:
		parsed, errParse := strconv.ParseFloat(strings.TrimSpace(field.Str), 64)
		if errParse != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 || f > math.MaxInt32 {
		return 0, false
	}
	return int64(f), true
}
