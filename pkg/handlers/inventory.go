package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/models"
)

func (h *Handler) listInventory(c *gin.Context) {
	now := h.now()
	if id := c.Query("id"); id != "" {
		item, err := h.Inventory.GetItem(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		status, days := inventory.Expiry(item, now)
		c.JSON(http.StatusOK, inventory.ItemView{
			InventoryItem:   item,
			ExpiryStatus:    status,
			DaysUntilExpiry: days,
			LowStock:        inventory.IsLowStock(item),
		})
		return
	}

	f := inventory.ItemFilter{
		Category:        c.Query("category"),
		StorageLocation: c.Query("storageLocation"),
		Expiry:          inventory.ExpiryStatus(c.Query("expiry")),
	}
	if raw := c.Query("lowStock"); raw != "" {
		low, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(c, apperr.Validation("lowStock must be true or false"))
			return
		}
		f.LowStock = low
	}

	items, err := h.Inventory.ListItems(c.Request.Context(), f, now)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) createItem(c *gin.Context) {
	var in inventory.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.Inventory.AddItem(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateItem(c *gin.Context) {
	id, ok := h.requireID(c)
	if !ok {
		return
	}
	var in inventory.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.Inventory.EditItem(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteItem(c *gin.Context) {
	id, ok := h.requireID(c)
	if !ok {
		return
	}
	if err := h.Inventory.DeleteItem(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMovements(c *gin.Context) {
	f := inventory.MovementFilter{
		ItemID: c.Query("itemId"),
		Type:   models.MovementType(c.Query("type")),
	}
	movements, err := h.Inventory.ListMovements(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func (h *Handler) recordMovement(c *gin.Context) {
	var in inventory.MovementInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	mv, item, err := h.Inventory.RecordMovement(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Metrics.Movement(mv.Type)
	c.JSON(http.StatusCreated, gin.H{"movement": mv, "item": item})
}
