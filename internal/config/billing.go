package config

import (
	"strconv"
	"strings"
)

// QuotaConfig holds quota allotment policy.
type QuotaConfig struct {
	// DefaultAllotment is granted to principals on first use.
	DefaultAllotment int64

	// PlanAllotments maps a Stripe price ID to the allotment granted when an
	// invoice for that price is paid.
	PlanAllotments map[string]int64
}

// AllotmentFor returns the allotment for a price ID, falling back to the default.
func (c *QuotaConfig) AllotmentFor(priceID string) int64 {
	if a, ok := c.PlanAllotments[priceID]; ok {
		return a
	}
	return c.DefaultAllotment
}

// parsePlanAllotments parses "price_a=500000,price_b=2000000". Malformed
// entries are skipped.
func parsePlanAllotments(s string) map[string]int64 {
	plans := make(map[string]int64)
	for _, entry := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || k == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			continue
		}
		plans[strings.TrimSpace(k)] = n
	}
	return plans
}
