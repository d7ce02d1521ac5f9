package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurant_ops/pkg/tips"
)

type distributionRequest struct {
	Roles     []tips.Role `json:"roles"`
	TotalTips float64     `json:"totalTips"`
	// Toggle lists roles whose received flag is flipped, in order.
	Toggle []string `json:"toggle"`
}

func (h *Handler) distributeTips(c *gin.Context) {
	var req distributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := tips.NewSession(req.Roles, req.TotalTips)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := h.now()
	for _, role := range req.Toggle {
		if _, err := session.ToggleReceived(role, now); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"shares":  session.Distribution(),
		"history": session.History(),
	})
}
