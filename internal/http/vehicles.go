package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"parking-service/internal/domain/parking"
	"parking-service/internal/http/middleware"
)

func (h *Handler) registerVehicle(c *gin.Context) {
	var input parking.VehicleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	vehicle, created, err := h.parkingService.RegisterVehicle(c.Request.Context(), input)
	if err != nil {
		h.handleError(c, err)
		return
	}

	logEvent := h.log.Info().Str("plate", vehicle.Plate).Bool("created", created)
	if principal, ok := middleware.GetPrincipal(c); ok {
		logEvent = logEvent.Str("user_id", principal.UserID.String())
	}
	logEvent.Msg("vehicle saved via api")

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, successResponse(vehicle))
}

func (h *Handler) getVehicle(c *gin.Context) {
	vehicle, err := h.parkingService.GetVehicle(c.Request.Context(), c.Param("plate"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicle))
}

func (h *Handler) listVehicles(c *gin.Context) {
	vehicles, err := h.parkingService.ListVehicles(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicles))
}

func (h *Handler) deleteVehicle(c *gin.Context) {
	if err := h.parkingService.DeleteVehicle(c.Request.Context(), c.Param("plate")); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listSlots(c *gin.Context) {
	slots, err := h.parkingService.ListSlots(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(slots))
}

func (h *Handler) releaseSlot(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("slot must be a number"))
		return
	}

	if err := h.parkingService.ReleaseSlot(c.Request.Context(), slot); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "slot": slot})
}
