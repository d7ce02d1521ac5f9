package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/reservation"
)

func (h *Handler) listReservations(c *gin.Context) {
	f := reservation.Filter{
		Date:   c.Query("date"),
		Status: c.Query("status"),
		Name:   c.Query("name"),
		When:   c.Query("when"),
		Sort:   c.Query("sort"),
	}
	items, err := h.Reservations.List(c.Request.Context(), f, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) createReservation(c *gin.Context) {
	var in reservation.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	res, replayed, err := h.Reservations.Create(c.Request.Context(), in, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	if replayed {
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) updateReservation(c *gin.Context) {
	var p reservation.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.Reservations.Update(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) deleteReservation(c *gin.Context) {
	if err := h.Reservations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reservationConflicts(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		h.fail(c, apperr.Validation("date query parameter is required"))
		return
	}
	conflicts, err := h.Reservations.TableConflicts(c.Request.Context(), date, c.Query("time"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conflicts)
}
