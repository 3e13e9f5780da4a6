// Package sandbox provides scriptable in-process native store layers for
// every adapter generation, backed by a YAML product catalog.
package sandbox

import (
	"os"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	// Storefront is the ISO 3166 alpha-3 code of the sandbox storefront.
	Storefront string           `yaml:"storefront"`
	Currency   string           `yaml:"currency"`
	Symbol     string           `yaml:"symbol"`
	Products   []CatalogProduct `yaml:"products"`
}

type CatalogProduct struct {
	ID          string          `yaml:"id"`
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	Price       decimal.Decimal `yaml:"price"`
	Consumable  bool            `yaml:"consumable"`
}

func DefaultCatalog() *Catalog {
	return &Catalog{
		Storefront: "USA",
		Currency:   "USD",
		Symbol:     "$",
		Products: []CatalogProduct{
			{
				ID:          "coins_100",
				Title:       "100 Coins",
				Description: "A small pile of coins",
				Price:       decimal.RequireFromString("0.99"),
				Consumable:  true,
			},
			{
				ID:          "coins_1000",
				Title:       "1000 Coins",
				Description: "A large pile of coins",
				Price:       decimal.RequireFromString("7.99"),
				Consumable:  true,
			},
			{
				ID:          "premium",
				Title:       "Premium",
				Description: "Unlocks every feature",
				Price:       decimal.RequireFromString("4.99"),
			},
		},
	}
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read catalog")
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "failed to parse catalog")
	}

	if c.Storefront == "" {
		c.Storefront = "USA"
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Symbol == "" {
		c.Symbol = "$"
	}

	seen := make(map[string]struct{}, len(c.Products))
	for _, p := range c.Products {
		if p.ID == "" {
			return nil, errors.New("catalog product without id")
		}
		if _, ok := seen[p.ID]; ok {
			return nil, errors.Errorf("duplicate catalog product %s", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("negative price for %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return &c, nil
}

func (c *Catalog) Product(id string) (CatalogProduct, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return CatalogProduct{}, false
}

// ConsumableIDs returns the ids of consumable products.
func (c *Catalog) ConsumableIDs() []string {
	var ids []string
	for _, p := range c.Products {
		if p.Consumable {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (c *Catalog) FormatPrice(price decimal.Decimal) string {
	return c.Symbol + price.StringFixed(2)
}
