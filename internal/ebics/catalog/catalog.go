// Package catalog maps logical document kinds × bank dialect to concrete
// EBICS order parameters (spec.md §4.D). Order variants are modeled as a
// tagged sum per the "inheritance and sealed response types" design note
// in spec.md §9: two structs behind a discriminated union, dispatched by
// pattern match rather than a shared base type.
package catalog

import (
	"fmt"

	"github.com/paynet/nexus/internal/nexusconfig"
)

// DocumentKind is a logical document this gateway downloads or uploads,
// independent of EBICS dialect.
type DocumentKind int

const (
	DocReport       DocumentKind = iota // camt.052
	DocStatement                        // camt.053
	DocNotification                     // camt.054
	DocCreditUpload                     // pain.001 upload
)

// Version distinguishes the EBICS schema version an order targets.
type Version int

const (
	H004 Version = iota // EBICS 2.5
	H005                // EBICS 3.0
)

// OrderH004 is the (type, attribute) order tuple EBICS 2.5 uses.
type OrderH004 struct {
	Type      string // 3-char order type, e.g. "Z53"
	Attribute string // 5-char attribute, e.g. "DZHNN"
}

// OrderH005 is the (order type, scope, message, version, container,
// option) tuple EBICS 3.0's BTD/BTU business transactions use. The order
// type (BTD/BTU) is held in Service; there is no separate service-name
// field, and the GLS table carries its STM/EOP codes in Option.
type OrderH005 struct {
	Service        string // e.g. "BTD", "BTU"
	ScopeOrName    string // "CH", "DE", or a scheme-specific name
	MessageName    string // e.g. "camt.053", "pain.001"
	MessageVersion string // e.g. "08", "09"
	Container      string // "ZIP" or ""
	Option         string // e.g. "SCT", "SCI", or ""
}

// Order is the sealed sum type a dialect lookup returns: exactly one of
// H004 or H005 is populated, discriminated by Version.
type Order struct {
	Version Version
	H004    *OrderH004
	H005    *OrderH005
}

// ErrUnsupported is returned when a dialect has no order for the
// requested document kind and version.
type ErrUnsupported struct {
	Dialect nexusconfig.Dialect
	Kind    DocumentKind
	Version Version
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("catalog: dialect %s has no order for document kind %d at version %d", e.Dialect, e.Kind, e.Version)
}

type dialectTable map[DocumentKind]map[Version]Order

var dialects = map[nexusconfig.Dialect]dialectTable{
	nexusconfig.DialectPostfinance: {
		DocReport: {
			H004: {Version: H004, H004: &OrderH004{Type: "Z01", Attribute: "DZHNN"}},
			H005: {Version: H005, H005: &OrderH005{Service: "BTD", ScopeOrName: "CH", MessageName: "camt.052", MessageVersion: "08", Container: "ZIP"}},
		},
		DocStatement: {
			H004: {Version: H004, H004: &OrderH004{Type: "Z53", Attribute: "DZHNN"}},
			H005: {Version: H005, H005: &OrderH005{Service: "BTD", ScopeOrName: "CH", MessageName: "camt.053", MessageVersion: "08", Container: "ZIP"}},
		},
		DocNotification: {
			H004: {Version: H004, H004: &OrderH004{Type: "Z54", Attribute: "DZHNN"}},
			H005: {Version: H005, H005: &OrderH005{Service: "BTD", ScopeOrName: "CH", MessageName: "camt.054", MessageVersion: "08", Container: "ZIP"}},
		},
		DocCreditUpload: {
			H004: {Version: H004, H004: &OrderH004{Type: "CCT", Attribute: "DZHNN"}},
			H005: {Version: H005, H005: &OrderH005{Service: "BTU", ScopeOrName: "CH", MessageName: "pain.001", MessageVersion: "09", Container: "ZIP"}},
		},
	},
	nexusconfig.DialectGLS: {
		DocReport: {
			H005: {Version: H005, H005: &OrderH005{Service: "BTD", ScopeOrName: "DE", MessageName: "camt.052", MessageVersion: "08", Container: "ZIP", Option: "STM"}},
		},
		DocStatement: {
			H005: {Version: H005, H005: &OrderH005{Service: "BTD", ScopeOrName: "DE", MessageName: "camt.053", MessageVersion: "08", Container: "ZIP", Option: "STM"}},
		},
		DocNotification: {
			H005: {Version: H005, H005: &OrderH005{Service: "BTD", ScopeOrName: "DE", MessageName: "camt.054", MessageVersion: "08", Container: "ZIP", Option: "EOP"}},
		},
		DocCreditUpload: {
			H005: {Version: H005, H005: &OrderH005{Service: "BTU", ScopeOrName: "DE", MessageName: "pain.001", MessageVersion: "09", Container: "ZIP", Option: "SCT"}},
		},
	},
}

// Resolve returns the concrete order for kind under dialect at version,
// or ErrUnsupported when the dialect does not define one (e.g. gls is
// H005-only, per spec.md §4.D).
func Resolve(dialect nexusconfig.Dialect, kind DocumentKind, version Version) (Order, error) {
	kinds, ok := dialects[dialect]
	if !ok {
		return Order{}, &ErrUnsupported{Dialect: dialect, Kind: kind, Version: version}
	}
	versions, ok := kinds[kind]
	if !ok {
		return Order{}, &ErrUnsupported{Dialect: dialect, Kind: kind, Version: version}
	}
	order, ok := versions[version]
	if !ok {
		return Order{}, &ErrUnsupported{Dialect: dialect, Kind: kind, Version: version}
	}
	return order, nil
}
