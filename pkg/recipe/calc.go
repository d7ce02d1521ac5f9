// Package recipe computes recipe costs and keeps recipes in the Recipes and
// RecipeDetails sheets.
package recipe

import (
	"errors"

	"github.com/shopspring/decimal"

	"restaurant_ops/pkg/models"
)

// ErrMarginOutOfRange is returned for a profit margin of 100% or more, where
// the selling price formula has no meaningful value.
var ErrMarginOutOfRange = errors.New("profit margin must be below 100%")

var hundred = decimal.NewFromInt(100)

func ingredientTotal(ings []models.Ingredient) decimal.Decimal {
	sum := decimal.Zero
	for _, ing := range ings {
		sum = sum.Add(decimal.NewFromFloat(ing.Quantity).Mul(decimal.NewFromFloat(ing.CostPerUnit)))
	}
	return sum
}

func recipeTotal(r models.Recipe) decimal.Decimal {
	return ingredientTotal(r.Ingredients).
		Add(decimal.NewFromFloat(r.LaborCost)).
		Add(decimal.NewFromFloat(r.OverheadCost))
}

func servings(r models.Recipe) decimal.Decimal {
	if r.Servings < 1 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(r.Servings))
}

// IngredientTotal is Σ quantity × costPerUnit.
func IngredientTotal(ings []models.Ingredient) float64 {
	return ingredientTotal(ings).InexactFloat64()
}

func RecipeTotal(r models.Recipe) float64 {
	return recipeTotal(r).InexactFloat64()
}

// CostPerServing divides the recipe total by servings, counting fewer than
// one serving as one.
func CostPerServing(r models.Recipe) float64 {
	return recipeTotal(r).Div(servings(r)).InexactFloat64()
}

// SellingPrice is costPerServing / (1 - margin/100).
func SellingPrice(r models.Recipe) (float64, error) {
	margin := decimal.NewFromFloat(r.ProfitMargin)
	if margin.GreaterThanOrEqual(hundred) {
		return 0, ErrMarginOutOfRange
	}
	perServing := recipeTotal(r).Div(servings(r))
	factor := decimal.NewFromInt(1).Sub(margin.Div(hundred))
	return perServing.Div(factor).InexactFloat64(), nil
}

func FoodCostPercent(r models.Recipe) float64 {
	total := recipeTotal(r)
	if !total.IsPositive() {
		return 0
	}
	return ingredientTotal(r.Ingredients).Div(total).Mul(hundred).InexactFloat64()
}

type Summary struct {
	IngredientTotal float64 `json:"ingredientTotal"`
	RecipeTotal     float64 `json:"recipeTotal"`
	CostPerServing  float64 `json:"costPerServing"`
	// SellingPrice is nil when the margin leaves it undefined.
	SellingPrice    *float64 `json:"sellingPrice"`
	FoodCostPercent float64  `json:"foodCostPercent"`
	Warning         string   `json:"warning,omitempty"`
}

func Summarize(r models.Recipe) Summary {
	s := Summary{
		IngredientTotal: IngredientTotal(r.Ingredients),
		RecipeTotal:     RecipeTotal(r),
		CostPerServing:  CostPerServing(r),
		FoodCostPercent: FoodCostPercent(r),
	}
	price, err := SellingPrice(r)
	if err != nil {
		s.Warning = err.Error()
		return s
	}
	s.SellingPrice = &price
	return s
}

// WithLineTotals returns ings with every totalCost recomputed.
func WithLineTotals(ings []models.Ingredient) []models.Ingredient {
	out := make([]models.Ingredient, len(ings))
	for i, ing := range ings {
		ing.TotalCost = decimal.NewFromFloat(ing.Quantity).Mul(decimal.NewFromFloat(ing.CostPerUnit)).InexactFloat64()
		out[i] = ing
	}
	return out
}
