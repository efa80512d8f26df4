// Package brand flags hostnames that borrow a well-known brand name or one of
// its typosquats.
package brand

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
)

const (
	brandNamePoints = 20
	typosquatPoints = 25
)

// Brand is one entry of the impersonation table.
type Brand struct {
	// Name is the canonical lower-case brand label, e.g. "paypal".
	Name string
	// Domain is the brand's own registrable domain. Defaults to Name + ".com".
	Domain string
	// Variants are typosquats checked in order; the first hit wins.
	Variants []string
}

func (b Brand) domain() string {
	if b.Domain != "" {
		return b.Domain
	}
	return b.Name + ".com"
}

// owns reports whether host is the brand's own domain or a subdomain of it.
func (b Brand) owns(host string) bool {
	d := b.domain()
	return host == d || strings.HasSuffix(host, "."+d)
}

// DefaultBrands is the built-in table. Order matters: the first brand whose
// name appears in a host is the only one scored for name matches.
var DefaultBrands = []Brand{
	{Name: "paypal", Variants: []string{"paypa1", "paypai", "pay-pal", "paypall", "peypal"}},
	{Name: "google", Variants: []string{"g00gle", "gooogle", "googel", "goog1e", "google-verify"}},
	{Name: "apple", Variants: []string{"app1e", "appie", "apple-id", "appleid-verify"}},
	{Name: "microsoft", Variants: []string{"micros0ft", "microsft", "rnicrosoft", "microsoft-login"}},
	{Name: "amazon", Variants: []string{"amaz0n", "amazom", "arnazon", "amazon-security"}},
	{Name: "facebook", Variants: []string{"faceb00k", "facebok", "facebook-login", "fb-verify"}},
	{Name: "netflix", Variants: []string{"netf1ix", "netfllx", "netflix-billing", "nettflix"}},
}

// Detector implements the brand impersonation checks over an ordered table.
type Detector struct {
	*core.BaseAnalyzer
	brands []Brand
}

// NewDetector creates a detector. A nil table uses DefaultBrands.
func NewDetector(brands []Brand, logger *zap.Logger) *Detector {
	if brands == nil {
		brands = DefaultBrands
	}
	return &Detector{
		BaseAnalyzer: core.NewBaseAnalyzer("brand", "Detects brand names and typosquats in the hostname", core.TypeStatic, logger),
		brands:       brands,
	}
}

// Analyze scores the target host.
func (d *Detector) Analyze(_ context.Context, target *core.Target) (*core.Result, error) {
	if target.Malformed() {
		return nil, core.ErrMalformedURL
	}
	return &core.Result{Signal: d.Score(target.Host)}, nil
}

// Score runs both rules against a lower-cased host.
//
// Name rule: the first brand in table order whose name is a substring of a
// host it does not own scores once, then scanning stops.
//
// Variant rule: each brand scores at most once, for its first listed variant
// found in the host. Different brands add up.
func (d *Detector) Score(host string) core.Signal {
	var sig core.Signal
	host = strings.ToLower(host)

	for _, b := range d.brands {
		if strings.Contains(host, b.Name) && !b.owns(host) {
			sig.Addf(brandNamePoints, "brand name %q in non-brand domain", b.Name)
			break
		}
	}

	for _, b := range d.brands {
		for _, v := range b.Variants {
			if strings.Contains(host, v) {
				sig.Addf(typosquatPoints, "typosquat of %s (%q)", b.Name, v)
				break
			}
		}
	}

	return sig
}
