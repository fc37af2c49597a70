// Package catalog holds the closed set of products known to the ledger and
// the ordered access tiers they map to. The set is fixed at configuration
// time; untrusted identifiers only enter the system through Lookup.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ProductID identifies a product of the catalog.
type ProductID string

func (id ProductID) String() string { return string(id) }

// Kind classifies how a product is reconciled.
type Kind string

const (
	KindNonConsumable Kind = "non_consumable"
	KindNonRenewable  Kind = "non_renewable"
	KindAutoRenewable Kind = "auto_renewable"
	KindConsumable    Kind = "consumable"
	KindOther         Kind = "other"
)

// ParseKind normalizes raw into a Kind. Unrecognized values map to KindOther.
func ParseKind(raw string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindNonConsumable:
		return KindNonConsumable
	case KindNonRenewable:
		return KindNonRenewable
	case KindAutoRenewable:
		return KindAutoRenewable
	case KindConsumable:
		return KindConsumable
	default:
		return KindOther
	}
}

// EntitlementLike reports whether ownership of the kind is a boolean fact.
func (k Kind) EntitlementLike() bool {
	switch k {
	case KindNonConsumable, KindNonRenewable, KindAutoRenewable:
		return true
	default:
		return false
	}
}

// AccessLevel is a tier rank. Zero is the floor tier (no access).
type AccessLevel int

const Floor AccessLevel = 0

var (
	ErrNoTiers          = errors.New("catalog_no_tiers")
	ErrDuplicateTier    = errors.New("catalog_duplicate_tier")
	ErrInvalidProductID = errors.New("catalog_invalid_product_id")
	ErrDuplicateProduct = errors.New("catalog_duplicate_product")
	ErrUnknownTier      = errors.New("catalog_unknown_tier")
	ErrInvalidKind      = errors.New("catalog_invalid_kind")
)

// Config is the catalog definition as loaded from configuration.
type Config struct {
	// Tiers lists access tiers from lowest to highest. The first entry is the floor.
	Tiers    []string        `mapstructure:"tiers" yaml:"tiers"`
	Products []ProductConfig `mapstructure:"products" yaml:"products"`
}

type ProductConfig struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Tier defaults to the floor tier when empty.
	Tier string `mapstructure:"tier" yaml:"tier"`
}

// Product is a validated catalog entry.
type Product struct {
	ID   ProductID
	Kind Kind
	Tier AccessLevel
}

type Catalog struct {
	products map[ProductID]Product
	order    []ProductID
	tiers    []string
	tierRank map[string]AccessLevel
}

// New validates cfg and builds a Catalog.
func New(cfg Config) (*Catalog, error) {
	if len(cfg.Tiers) == 0 {
		return nil, ErrNoTiers
	}

	c := &Catalog{
		products: make(map[ProductID]Product, len(cfg.Products)),
		order:    make([]ProductID, 0, len(cfg.Products)),
		tiers:    make([]string, 0, len(cfg.Tiers)),
		tierRank: make(map[string]AccessLevel, len(cfg.Tiers)),
	}

	for i, raw := range cfg.Tiers {
		name := normalizeTier(raw)
		if name == "" {
			return nil, fmt.Errorf("%w: tier %d is empty", ErrNoTiers, i)
		}
		if _, exists := c.tierRank[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTier, name)
		}
		c.tierRank[name] = AccessLevel(i)
		c.tiers = append(c.tiers, name)
	}

	for _, pc := range cfg.Products {
		id := ProductID(strings.TrimSpace(pc.ID))
		if id == "" {
			return nil, ErrInvalidProductID
		}
		if _, exists := c.products[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProduct, id)
		}

		kind := ParseKind(pc.Kind)
		if kind == KindOther && !strings.EqualFold(strings.TrimSpace(pc.Kind), string(KindOther)) {
			return nil, fmt.Errorf("%w: %s has kind %q", ErrInvalidKind, id, pc.Kind)
		}

		tier := Floor
		if name := normalizeTier(pc.Tier); name != "" {
			rank, ok := c.tierRank[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s maps to %q", ErrUnknownTier, id, pc.Tier)
			}
			tier = rank
		}

		c.products[id] = Product{ID: id, Kind: kind, Tier: tier}
		c.order = append(c.order, id)
	}

	return c, nil
}

// Lookup maps an untrusted identifier to a catalog ProductID.
func (c *Catalog) Lookup(raw string) (ProductID, bool) {
	id := ProductID(strings.TrimSpace(raw))
	if _, ok := c.products[id]; !ok {
		return "", false
	}
	return id, true
}

func (c *Catalog) Product(id ProductID) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// Kind returns the kind of id, KindOther for identifiers outside the catalog.
func (c *Catalog) Kind(id ProductID) Kind {
	if p, ok := c.products[id]; ok {
		return p.Kind
	}
	return KindOther
}

// Products returns every product in configuration order.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// AutoRenewable returns the subscription products in configuration order.
func (c *Catalog) AutoRenewable() []ProductID {
	out := make([]ProductID, 0)
	for _, id := range c.order {
		if c.products[id].Kind == KindAutoRenewable {
			out = append(out, id)
		}
	}
	return out
}

// Tier resolves a tier name to its rank.
func (c *Catalog) Tier(name string) (AccessLevel, bool) {
	rank, ok := c.tierRank[normalizeTier(name)]
	return rank, ok
}

// TierName returns the configured name of level, or "" when out of range.
func (c *Catalog) TierName(level AccessLevel) string {
	if int(level) < 0 || int(level) >= len(c.tiers) {
		return ""
	}
	return c.tiers[level]
}

// AccessLevel is the highest tier mapped from owned, or Floor when none is owned.
func (c *Catalog) AccessLevel(owned []ProductID) AccessLevel {
	level := Floor
	for _, id := range owned {
		p, ok := c.products[id]
		if !ok {
			continue
		}
		if p.Tier > level {
			level = p.Tier
		}
	}
	return level
}

func normalizeTier(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
