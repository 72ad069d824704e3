package domain

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors for Ingredient
var (
	ErrEmptyIngredientID     = errors.New("ingredient ID cannot be empty")
	ErrEmptyIngredientName   = errors.New("ingredient name cannot be empty")
	ErrInvalidProcessingTime = errors.New("ingredient processing time must be positive")
	ErrProcessingTimeTooLong = errors.New("ingredient processing time exceeds the maximum")
	ErrInvalidFailureRate    = errors.New("ingredient failure rate must be between 0 and 1")
	ErrDuplicateIngredient   = errors.New("duplicate ingredient ID in catalog")
)

// MaxProcessingTimeSeconds bounds ProcessingTimeSeconds well below the
// point where ProcessingDuration would overflow time.Duration.
const MaxProcessingTimeSeconds = 24 * 60 * 60

// Ingredient is an immutable catalog entry describing how long processing
// takes and how likely an attempt is to fail.
type Ingredient struct {
	ID                    string  `json:"id"                      mapstructure:"id"`
	Name                  string  `json:"name"                    mapstructure:"name"`
	Emoji                 string  `json:"emoji"                   mapstructure:"emoji"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds" mapstructure:"processing_time_seconds"`
	FailureRate           float64 `json:"failure_rate"            mapstructure:"failure_rate"`
	Description           string  `json:"description"             mapstructure:"description"`
}

// Validate checks if the Ingredient has valid data.
func (i Ingredient) Validate() error {
	if i.ID == "" {
		return ErrEmptyIngredientID
	}
	if i.Name == "" {
		return ErrEmptyIngredientName
	}
	if !(i.ProcessingTimeSeconds > 0) {
		return ErrInvalidProcessingTime
	}
	if i.ProcessingTimeSeconds > MaxProcessingTimeSeconds {
		return fmt.Errorf("%w: %g > %d seconds", ErrProcessingTimeTooLong, i.ProcessingTimeSeconds, MaxProcessingTimeSeconds)
	}
	if !(i.FailureRate >= 0 && i.FailureRate <= 1) {
		return ErrInvalidFailureRate
	}
	return nil
}

// ProcessingDuration returns the simulated duration of one full attempt.
func (i Ingredient) ProcessingDuration() time.Duration {
	return time.Duration(i.ProcessingTimeSeconds * float64(time.Second))
}

// Catalog is the read-only table of ingredients the pipeline can process.
// Lookups return copies, so callers may keep the result as a snapshot.
type Catalog struct {
	items map[string]Ingredient
	order []string
}

// NewCatalog builds a catalog from the given ingredients, preserving their order.
// Returns an error if any ingredient is invalid or an ID appears twice.
func NewCatalog(ingredients []Ingredient) (*Catalog, error) {
	c := &Catalog{
		items: make(map[string]Ingredient, len(ingredients)),
		order: make([]string, 0, len(ingredients)),
	}

	for _, ing := range ingredients {
		if err := ing.Validate(); err != nil {
			return nil, fmt.Errorf("ingredient %q: %w", ing.ID, err)
		}
		if _, exists := c.items[ing.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIngredient, ing.ID)
		}
		c.items[ing.ID] = ing
		c.order = append(c.order, ing.ID)
	}

	return c, nil
}

// Lookup returns a copy of the ingredient with the given ID.
func (c *Catalog) Lookup(id string) (Ingredient, bool) {
	ing, ok := c.items[id]
	return ing, ok
}

// All returns every ingredient in catalog order.
func (c *Catalog) All() []Ingredient {
	out := make([]Ingredient, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Len returns the number of ingredients in the catalog.
func (c *Catalog) Len() int {
	return len(c.order)
}

// DefaultIngredients returns the built-in ingredient table used when no
// catalog is configured.
func DefaultIngredients() []Ingredient {
	return []Ingredient{
		{ID: "carrot", Name: "Carrot", Emoji: "🥕", ProcessingTimeSeconds: 3, FailureRate: 0.1, Description: "Peeled and diced"},
		{ID: "tomato", Name: "Tomato", Emoji: "🍅", ProcessingTimeSeconds: 2, FailureRate: 0.15, Description: "Blanched and crushed"},
		{ID: "onion", Name: "Onion", Emoji: "🧅", ProcessingTimeSeconds: 4, FailureRate: 0.2, Description: "Finely chopped"},
		{ID: "potato", Name: "Potato", Emoji: "🥔", ProcessingTimeSeconds: 5, FailureRate: 0.1, Description: "Boiled and mashed"},
		{ID: "broccoli", Name: "Broccoli", Emoji: "🥦", ProcessingTimeSeconds: 3, FailureRate: 0.25, Description: "Cut into florets"},
		{ID: "garlic", Name: "Garlic", Emoji: "🧄", ProcessingTimeSeconds: 2, FailureRate: 0.05, Description: "Minced"},
		{ID: "pepper", Name: "Chili Pepper", Emoji: "🌶️", ProcessingTimeSeconds: 3, FailureRate: 0.3, Description: "Seeded and sliced"},
		{ID: "mushroom", Name: "Mushroom", Emoji: "🍄", ProcessingTimeSeconds: 4, FailureRate: 0.2, Description: "Sautéed"},
		{ID: "corn", Name: "Corn", Emoji: "🌽", ProcessingTimeSeconds: 3, FailureRate: 0.1, Description: "Kernels stripped from the cob"},
		{ID: "eggplant", Name: "Eggplant", Emoji: "🍆", ProcessingTimeSeconds: 5, FailureRate: 0.15, Description: "Roasted"},
	}
}

// DefaultCatalog returns a catalog built from DefaultIngredients.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultIngredients())
	if err != nil {
		// ALLOW-PANIC: the built-in table is static and validated by tests
		panic(err)
	}
	return c
}
