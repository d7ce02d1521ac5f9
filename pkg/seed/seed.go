// Package seed fills an empty spreadsheet with demo data.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jaswdr/faker"
	"go.uber.org/zap"

	"restaurant_ops/pkg/inventory"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/recipe"
	"restaurant_ops/pkg/reservation"
)

type Counts struct {
	Reservations int
	Items        int
	Recipes      int
}

func (c Counts) Total() int { return c.Reservations + c.Items + c.Recipes }

var (
	times    = []string{"12:00", "12:30", "13:00", "19:00", "19:30", "20:00", "20:30", "21:00"}
	sources  = []string{"manual", "phone", "website", "walk-in"}
	statuses = []string{
		string(models.StatusPending), string(models.StatusPending),
		string(models.StatusConfirmed), string(models.StatusWaitlist), string(models.StatusCancelled),
	}
	pantry = []struct {
		name, category, subcategory, unit string
		cost                              float64
	}{
		{"Semolina", "Dry goods", "Grains", "kg", 2.4},
		{"Lamb shoulder", "Meat", "Lamb", "kg", 14},
		{"Chickpeas", "Dry goods", "Pulses", "kg", 3.1},
		{"Saffron", "Spices", "Threads", "g", 9.5},
		{"Ras el hanout", "Spices", "Blends", "g", 0.4},
		{"Preserved lemons", "Condiments", "Pickles", "jar", 6},
		{"Olive oil", "Oils", "Extra virgin", "l", 8.5},
		{"Carrots", "Vegetables", "Roots", "kg", 1.2},
		{"Courgettes", "Vegetables", "Squash", "kg", 2.2},
		{"Merguez", "Meat", "Sausages", "kg", 11},
		{"Mint", "Herbs", "Fresh", "bunch", 1.5},
		{"Almonds", "Nuts", "Whole", "kg", 12},
	}
	dishes = []string{"Couscous royal", "Lamb tagine", "Harira", "Chicken pastilla", "Zaalouk", "Mint tea", "Seffa", "Kefta tagine"}
)

type Seeder struct {
	reservations *reservation.Manager
	inventory    *inventory.Ledger
	recipes      *recipe.Store
	fake         faker.Faker
	rnd          *rand.Rand
	logger       *zap.Logger
	now          func() time.Time
	progress     func()
}

func New(res *reservation.Manager, inv *inventory.Ledger, rec *recipe.Store, logger *zap.Logger, seed int64) *Seeder {
	return &Seeder{
		reservations: res,
		inventory:    inv,
		recipes:      rec,
		fake:         faker.NewWithSeed(rand.NewSource(seed)),
		rnd:          rand.New(rand.NewSource(seed)),
		logger:       logger,
		now:          time.Now,
	}
}

// OnProgress registers fn to be called after each created record.
func (s *Seeder) OnProgress(fn func()) {
	s.progress = fn
}

func (s *Seeder) tick() {
	if s.progress != nil {
		s.progress()
	}
}

func (s *Seeder) pick(list []string) string {
	return list[s.rnd.Intn(len(list))]
}

// Run creates the requested records through the domain services, so the
// data obeys the same rules as data entered by users.
func (s *Seeder) Run(ctx context.Context, want Counts) (Counts, error) {
	var done Counts
	today := s.now()

	for i := 0; i < want.Reservations; i++ {
		day := today.AddDate(0, 0, s.rnd.Intn(42)-14)
		in := reservation.CreateInput{
			Date:   day.Format(reservation.DateLayout),
			Time:   s.pick(times),
			Name:   s.fake.Person().Name(),
			Guests: 1 + s.rnd.Intn(8),
			Phone:  s.fake.Phone().Number(),
			Email:  s.fake.Internet().Email(),
			Source: s.pick(sources),
			Status: models.ReservationStatus(s.pick(statuses)),
		}
		if s.rnd.Intn(4) == 0 {
			in.Notes = s.fake.Lorem().Sentence(6)
		}
		if _, _, err := s.reservations.Create(ctx, in, ""); err != nil {
			return done, fmt.Errorf("seed reservation %d: %w", i, err)
		}
		done.Reservations++
		s.tick()
	}

	for i := 0; i < want.Items; i++ {
		p := pantry[i%len(pantry)]
		name := p.name
		if i >= len(pantry) {
			name = fmt.Sprintf("%s (%d)", p.name, i/len(pantry)+1)
		}
		in := inventory.ItemInput{
			Name:            name,
			Category:        p.category,
			Subcategory:     p.subcategory,
			Quantity:        float64(s.rnd.Intn(40)),
			Unit:            p.unit,
			CostPerUnit:     p.cost,
			MinThreshold:    float64(2 + s.rnd.Intn(8)),
			Supplier:        s.fake.Company().Name(),
			StorageLocation: s.pick([]string{"Dry store", "Walk-in fridge", "Freezer", "Spice rack"}),
		}
		if s.rnd.Intn(2) == 0 {
			in.ExpiryDate = today.AddDate(0, 0, s.rnd.Intn(30)-5).Format(inventory.ExpiryLayout)
		}
		if _, err := s.inventory.AddItem(ctx, in); err != nil {
			return done, fmt.Errorf("seed item %d: %w", i, err)
		}
		done.Items++
		s.tick()
	}

	for i := 0; i < want.Recipes; i++ {
		name := dishes[i%len(dishes)]
		if i >= len(dishes) {
			name = fmt.Sprintf("%s %d", name, i/len(dishes)+1)
		}
		n := 2 + s.rnd.Intn(4)
		ings := make([]models.Ingredient, 0, n)
		for j := 0; j < n; j++ {
			p := pantry[s.rnd.Intn(len(pantry))]
			ings = append(ings, models.Ingredient{
				Name:        p.name,
				Quantity:    float64(1+s.rnd.Intn(20)) / 10,
				Unit:        p.unit,
				CostPerUnit: p.cost,
			})
		}
		in := recipe.Input{
			Name:         name,
			Servings:     2 + s.rnd.Intn(6),
			Ingredients:  ings,
			LaborCost:    float64(5 + s.rnd.Intn(20)),
			OverheadCost: float64(2 + s.rnd.Intn(8)),
			ProfitMargin: float64(55 + s.rnd.Intn(20)),
		}
		if _, err := s.recipes.Create(ctx, in); err != nil {
			return done, fmt.Errorf("seed recipe %d: %w", i, err)
		}
		done.Recipes++
		s.tick()
	}

	s.logger.Info("demo data seeded",
		zap.Int("reservations", done.Reservations),
		zap.Int("items", done.Items),
		zap.Int("recipes", done.Recipes))
	return done, nil
}
