package recipe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lucsky/cuid"
	"go.uber.org/zap"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/sheet"
)

// RecipeDetails sheet columns.
const (
	colID = iota
	colName
	colServings
	colIngredients
	colLaborCost
	colOverheadCost
	colProfitMargin
	colCreatedAt
	colUpdatedAt
	numDetailCols
)

type Input struct {
	Name         string              `json:"name"`
	Servings     int                 `json:"servings"`
	Ingredients  []models.Ingredient `json:"ingredients"`
	LaborCost    float64             `json:"laborCost"`
	OverheadCost float64             `json:"overheadCost"`
	ProfitMargin float64             `json:"profitMargin"`
}

// Validate checks in and returns it as a recipe draft with line totals set.
func (in Input) Validate() (models.Recipe, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.Recipe{}, apperr.Validation("name is required")
	}
	if in.Servings < 1 {
		return models.Recipe{}, apperr.Validation("servings must be at least 1")
	}
	for i, ing := range in.Ingredients {
		if strings.TrimSpace(ing.Name) == "" {
			return models.Recipe{}, apperr.Validation(fmt.Sprintf("ingredient %d: name is required", i+1))
		}
		if !nonNegative(ing.Quantity) || !nonNegative(ing.CostPerUnit) {
			return models.Recipe{}, apperr.Validation(fmt.Sprintf("ingredient %d: quantity and costPerUnit must be non-negative numbers", i+1))
		}
	}
	if !nonNegative(in.LaborCost) || !nonNegative(in.OverheadCost) {
		return models.Recipe{}, apperr.Validation("laborCost and overheadCost must be non-negative numbers")
	}
	if math.IsNaN(in.ProfitMargin) || math.IsInf(in.ProfitMargin, 0) {
		return models.Recipe{}, apperr.Validation("profitMargin must be a number")
	}

	ings := in.Ingredients
	if ings == nil {
		ings = []models.Ingredient{}
	}
	return models.Recipe{
		Name:         strings.TrimSpace(in.Name),
		Servings:     in.Servings,
		Ingredients:  WithLineTotals(ings),
		LaborCost:    in.LaborCost,
		OverheadCost: in.OverheadCost,
		ProfitMargin: in.ProfitMargin,
	}, nil
}

func nonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func detailRow(r models.Recipe) ([]string, error) {
	ings, err := json.Marshal(r.Ingredients)
	if err != nil {
		return nil, fmt.Errorf("encode ingredients: %w", err)
	}
	return []string{
		r.ID,
		r.Name,
		strconv.Itoa(r.Servings),
		string(ings),
		formatFloat(r.LaborCost),
		formatFloat(r.OverheadCost),
		formatFloat(r.ProfitMargin),
		r.CreatedAt,
		r.UpdatedAt,
	}, nil
}

func fromDetailRow(row []string) models.Recipe {
	row = sheet.Pad(row, numDetailCols)
	servings, _ := strconv.Atoi(strings.TrimSpace(row[colServings]))
	var ings []models.Ingredient
	if err := json.Unmarshal([]byte(row[colIngredients]), &ings); err != nil || ings == nil {
		ings = []models.Ingredient{}
	}
	parse := func(s string) float64 {
		f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f
	}
	return models.Recipe{
		ID:           row[colID],
		Name:         row[colName],
		Servings:     servings,
		Ingredients:  ings,
		LaborCost:    parse(row[colLaborCost]),
		OverheadCost: parse(row[colOverheadCost]),
		ProfitMargin: parse(row[colProfitMargin]),
		CreatedAt:    row[colCreatedAt],
		UpdatedAt:    row[colUpdatedAt],
	}
}

// Store keeps each recipe as a summary row (Recipes) and a detail row
// (RecipeDetails). The Recipes sheet lock guards both sheets. The detail
// row is always written first and undone when the summary write fails.
type Store struct {
	gw     sheet.Gateway
	locks  lock.Locker
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

func NewStore(gw sheet.Gateway, locks lock.Locker, logger *zap.Logger) *Store {
	return &Store{gw: gw, locks: locks, logger: logger, newID: cuid.New, now: time.Now}
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	unlock, err := s.locks.Lock(ctx, lock.SheetKey(sheet.Recipes.Name))
	if err != nil {
		return nil, apperr.Upstream("lock recipes", err)
	}
	return unlock, nil
}

type tables struct {
	summaries [][]string
	details   [][]string
}

func (s *Store) load(ctx context.Context) (tables, error) {
	summaries, err := s.gw.Get(ctx, sheet.Recipes.All())
	if err != nil {
		return tables{}, apperr.Upstream("read recipes", err)
	}
	details, err := s.gw.Get(ctx, sheet.RecipeDetails.All())
	if err != nil {
		return tables{}, apperr.Upstream("read recipe details", err)
	}
	return tables{summaries: summaries, details: details}, nil
}

func (s *Store) Create(ctx context.Context, in Input) (models.Recipe, error) {
	r, err := in.Validate()
	if err != nil {
		return models.Recipe{}, err
	}
	now := s.now().UTC().Format(time.RFC3339)
	r.ID = s.newID()
	r.CreatedAt, r.UpdatedAt = now, now

	row, err := detailRow(r)
	if err != nil {
		return models.Recipe{}, err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return models.Recipe{}, err
	}
	defer unlock()

	if err := s.gw.Append(ctx, sheet.RecipeDetails.All(), [][]string{row}); err != nil {
		return models.Recipe{}, apperr.Upstream("append recipe detail", err)
	}
	if err := s.gw.Append(ctx, sheet.Recipes.All(), [][]string{{r.ID, r.Name}}); err != nil {
		s.removeDetail(ctx, r.ID)
		return models.Recipe{}, apperr.Upstream("append recipe summary", err)
	}

	s.logger.Info("recipe created", zap.String("id", r.ID), zap.String("name", r.Name))
	return r, nil
}

// removeDetail undoes a detail append whose summary could not be written.
func (s *Store) removeDetail(ctx context.Context, id string) {
	ctx, cancel := sheet.Detached(ctx)
	defer cancel()
	details, err := s.gw.Get(ctx, sheet.RecipeDetails.All())
	if err == nil {
		if idx, ok := sheet.FindRow(details, id); ok {
			err = s.gw.DeleteRows(ctx, sheet.RecipeDetails.Name, idx, idx+1)
		}
	}
	if err != nil {
		s.logger.Error("failed to undo recipe detail, run reconcile", zap.String("id", id), zap.Error(err))
	}
}

func (s *Store) Update(ctx context.Context, id string, in Input) (models.Recipe, error) {
	r, err := in.Validate()
	if err != nil {
		return models.Recipe{}, err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return models.Recipe{}, err
	}
	defer unlock()

	t, err := s.load(ctx)
	if err != nil {
		return models.Recipe{}, err
	}
	dIdx, ok := sheet.FindRow(t.details, id)
	if !ok {
		return models.Recipe{}, apperr.NotFound("Recipe not found")
	}
	previous := sheet.Pad(t.details[dIdx], numDetailCols)

	r.ID = id
	r.CreatedAt = previous[colCreatedAt]
	r.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	row, err := detailRow(r)
	if err != nil {
		return models.Recipe{}, err
	}

	detailRange := sheet.RecipeDetails.Row(sheet.RowNumber(dIdx))
	if err := s.gw.Update(ctx, detailRange, [][]string{row}); err != nil {
		return models.Recipe{}, apperr.Upstream("update recipe detail", err)
	}

	var summaryErr error
	if sIdx, ok := sheet.FindRow(t.summaries, id); ok {
		summaryErr = s.gw.Update(ctx, sheet.Cell(sheet.Recipes.Name, "B", sheet.RowNumber(sIdx)), [][]string{{r.Name}})
	} else {
		summaryErr = s.gw.Append(ctx, sheet.Recipes.All(), [][]string{{r.ID, r.Name}})
	}
	if summaryErr != nil {
		undoCtx, cancel := sheet.Detached(ctx)
		defer cancel()
		if err := s.gw.Update(undoCtx, detailRange, [][]string{previous}); err != nil {
			s.logger.Error("failed to restore recipe detail, run reconcile", zap.String("id", id), zap.Error(err))
		}
		return models.Recipe{}, apperr.Upstream("update recipe summary", summaryErr)
	}

	s.logger.Info("recipe updated", zap.String("id", id))
	return r, nil
}

// Delete removes both rows. When the summary delete fails the detail row is
// appended back.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := s.load(ctx)
	if err != nil {
		return err
	}
	dIdx, hasDetail := sheet.FindRow(t.details, id)
	sIdx, hasSummary := sheet.FindRow(t.summaries, id)
	if !hasDetail && !hasSummary {
		return apperr.NotFound("Recipe not found")
	}

	if hasDetail {
		if err := s.gw.DeleteRows(ctx, sheet.RecipeDetails.Name, dIdx, dIdx+1); err != nil {
			return apperr.Upstream("delete recipe detail", err)
		}
	}
	if hasSummary {
		if err := s.gw.DeleteRows(ctx, sheet.Recipes.Name, sIdx, sIdx+1); err != nil {
			if hasDetail {
				undoCtx, cancel := sheet.Detached(ctx)
				defer cancel()
				if rbErr := s.gw.Append(undoCtx, sheet.RecipeDetails.All(), [][]string{t.details[dIdx]}); rbErr != nil {
					s.logger.Error("failed to restore recipe detail, run reconcile", zap.String("id", id), zap.Error(rbErr))
				}
			}
			return apperr.Upstream("delete recipe summary", err)
		}
	}

	s.logger.Info("recipe deleted", zap.String("id", id))
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Recipe, error) {
	details, err := s.gw.Get(ctx, sheet.RecipeDetails.All())
	if err != nil {
		return models.Recipe{}, apperr.Upstream("read recipe details", err)
	}
	idx, ok := sheet.FindRow(details, id)
	if !ok {
		return models.Recipe{}, apperr.NotFound("Recipe not found")
	}
	return fromDetailRow(details[idx]), nil
}

// List returns every recipe with details, in sheet order.
func (s *Store) List(ctx context.Context) ([]models.Recipe, error) {
	details, err := s.gw.Get(ctx, sheet.RecipeDetails.All())
	if err != nil {
		return nil, apperr.Upstream("read recipe details", err)
	}
	out := make([]models.Recipe, 0, len(details))
	for i := 1; i < len(details); i++ {
		if len(details[i]) == 0 || details[i][0] == "" {
			continue
		}
		out = append(out, fromDetailRow(details[i]))
	}
	return out, nil
}

type ReconcileReport struct {
	RemovedSummaries []string `json:"removedSummaries"`
	AddedSummaries   []string `json:"addedSummaries"`
	RenamedSummaries []string `json:"renamedSummaries"`
}

func (r ReconcileReport) Changed() bool {
	return len(r.RemovedSummaries)+len(r.AddedSummaries)+len(r.RenamedSummaries) > 0
}

// Reconcile brings Recipes back in line with RecipeDetails: summaries
// without a detail row are removed, missing ones appended, stale names
// rewritten.
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{RemovedSummaries: []string{}, AddedSummaries: []string{}, RenamedSummaries: []string{}}

	unlock, err := s.lock(ctx)
	if err != nil {
		return report, err
	}
	defer unlock()

	t, err := s.load(ctx)
	if err != nil {
		return report, err
	}

	names := make(map[string]string)
	var detailOrder []string
	for i := 1; i < len(t.details); i++ {
		if len(t.details[i]) == 0 || t.details[i][0] == "" {
			continue
		}
		r := fromDetailRow(t.details[i])
		if _, dup := names[r.ID]; !dup {
			detailOrder = append(detailOrder, r.ID)
		}
		names[r.ID] = r.Name
	}

	seen := make(map[string]bool)
	var orphans []int
	var renames []sheet.ValueRange
	for i := 1; i < len(t.summaries); i++ {
		row := sheet.Pad(t.summaries[i], 2)
		id := row[0]
		if id == "" {
			continue
		}
		name, ok := names[id]
		if !ok || seen[id] {
			orphans = append(orphans, i)
			report.RemovedSummaries = append(report.RemovedSummaries, id)
			continue
		}
		seen[id] = true
		if row[1] != name {
			renames = append(renames, sheet.ValueRange{
				Range:  sheet.Cell(sheet.Recipes.Name, "B", sheet.RowNumber(i)),
				Values: [][]string{{name}},
			})
			report.RenamedSummaries = append(report.RenamedSummaries, id)
		}
	}

	if len(renames) > 0 {
		if err := s.gw.BatchUpdate(ctx, renames); err != nil {
			return report, apperr.Upstream("rename recipe summaries", err)
		}
	}

	// delete bottom-up so earlier indices stay valid
	sort.Sort(sort.Reverse(sort.IntSlice(orphans)))
	for _, idx := range orphans {
		if err := s.gw.DeleteRows(ctx, sheet.Recipes.Name, idx, idx+1); err != nil {
			return report, apperr.Upstream("remove orphan recipe summary", err)
		}
	}

	var missing [][]string
	for _, id := range detailOrder {
		if !seen[id] {
			missing = append(missing, []string{id, names[id]})
			report.AddedSummaries = append(report.AddedSummaries, id)
		}
	}
	if len(missing) > 0 {
		if err := s.gw.Append(ctx, sheet.Recipes.All(), missing); err != nil {
			return report, apperr.Upstream("append missing recipe summaries", err)
		}
	}

	if report.Changed() {
		s.logger.Warn("recipe tables reconciled",
			zap.Strings("removed", report.RemovedSummaries),
			zap.Strings("added", report.AddedSummaries),
			zap.Strings("renamed", report.RenamedSummaries))
	}
	return report, nil
}
