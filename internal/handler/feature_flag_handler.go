package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/okulsys/attendance-api/internal/service"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
	"github.com/okulsys/attendance-api/pkg/response"
)

// FeatureFlagHandler exposes policy flag administration.
type FeatureFlagHandler struct {
	service *service.FeatureFlagService
}

// NewFeatureFlagHandler constructs a feature flag handler.
func NewFeatureFlagHandler(svc *service.FeatureFlagService) *FeatureFlagHandler {
	return &FeatureFlagHandler{service: svc}
}

// List godoc
// @Summary List feature flags
// @Description List every known flag with defaults filled in
// @Tags FeatureFlags
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /flags [get]
func (h *FeatureFlagHandler) List(c *gin.Context) {
	flags, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flags, nil)
}

type flagUpdateRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// Update godoc
// @Summary Update feature flag
// @Description Set one flag value; takes effect within the cache TTL
// @Tags FeatureFlags
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "Flag key"
// @Param payload body flagUpdateRequest true "Flag value"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /flags/{key} [put]
func (h *FeatureFlagHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req flagUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid flag payload"))
		return
	}
	flag, err := h.service.Update(c.Request.Context(), c.Param("key"), req.Value, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flag, nil)
}
