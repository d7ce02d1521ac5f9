package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/recipe"
)

type recipeView struct {
	models.Recipe
	Summary recipe.Summary `json:"summary"`
}

func viewOf(r models.Recipe) recipeView {
	return recipeView{Recipe: r, Summary: recipe.Summarize(r)}
}

func (h *Handler) listRecipes(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		r, err := h.Recipes.Get(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(r))
		return
	}

	list, err := h.Recipes.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]recipeView, len(list))
	for i, r := range list {
		views[i] = viewOf(r)
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) createRecipe(c *gin.Context) {
	var in recipe.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.Recipes.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(r))
}

func (h *Handler) updateRecipe(c *gin.Context) {
	id, ok := h.requireID(c)
	if !ok {
		return
	}
	var in recipe.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.Recipes.Update(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(r))
}

func (h *Handler) deleteRecipe(c *gin.Context) {
	id, ok := h.requireID(c)
	if !ok {
		return
	}
	if err := h.Recipes.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// costRecipe prices a draft without saving it; servings below one count as one.
func (h *Handler) costRecipe(c *gin.Context) {
	var in recipe.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	r := models.Recipe{
		Name:         in.Name,
		Servings:     in.Servings,
		Ingredients:  recipe.WithLineTotals(in.Ingredients),
		LaborCost:    in.LaborCost,
		OverheadCost: in.OverheadCost,
		ProfitMargin: in.ProfitMargin,
	}
	c.JSON(http.StatusOK, viewOf(r))
}
