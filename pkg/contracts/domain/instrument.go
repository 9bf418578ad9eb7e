package domain

import "strings"

// Instrument represents one tradable equity in the catalog.
// Code is the canonical exchange-qualified identifier (e.g. "000001.SZ");
// Symbol is the bare exchange symbol (e.g. "000001").
type Instrument struct {
	Code       string `json:"code" db:"code" validate:"required"`
	Symbol     string `json:"symbol" db:"symbol" validate:"required"`
	Name       string `json:"name" db:"name" validate:"required"`
	ListDate   string `json:"list_date,omitempty" db:"list_date"`     // YYYYMMDD, may be empty
	DelistDate string `json:"delist_date,omitempty" db:"delist_date"` // YYYYMMDD, empty while listed
	Exchange   string `json:"exchange" db:"exchange"`
	Industry   string `json:"industry,omitempty" db:"industry"`
}

// Listed reports whether the instrument is still trading.
func (i Instrument) Listed() bool {
	return i.DelistDate == ""
}

// ExchangeSuffix returns the exchange part of the canonical code
// ("SZ" for "000001.SZ"), or empty when the code carries no suffix.
func (i Instrument) ExchangeSuffix() string {
	if idx := strings.LastIndex(i.Code, "."); idx >= 0 {
		return i.Code[idx+1:]
	}
	return ""
}

// ClassificationScheme identifies one of the coexisting industry
// categorization systems.
type ClassificationScheme string

const (
	SchemeShenwan ClassificationScheme = "sw"
	SchemeCITICS  ClassificationScheme = "citics"
)

// Valid reports whether the scheme is one of the supported systems.
func (s ClassificationScheme) Valid() bool {
	return s == SchemeShenwan || s == SchemeCITICS
}

// IndustryMembership maps an instrument to an industry label within one
// classification scheme. At most one row exists per (code, industry, scheme).
type IndustryMembership struct {
	Code     string               `json:"code" db:"code" validate:"required"`
	Industry string               `json:"industry" db:"industry" validate:"required"`
	Level    string               `json:"level,omitempty" db:"level"`
	Scheme   ClassificationScheme `json:"scheme" db:"scheme" validate:"required"`
}
