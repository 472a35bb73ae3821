package model

import "strings"

// IdentityKind tells which of the three shipment keys is authoritative for a record.
type IdentityKind int

const (
	IdentityNone IdentityKind = iota
	IdentityASN
	IdentityDO
	IdentityInvoice
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityASN:
		return "asn"
	case IdentityDO:
		return "do"
	case IdentityInvoice:
		return "invoice"
	default:
		return "none"
	}
}

// Identity is the logical key of a shipment: Asn(v) | Do(v) | Invoice(v).
// It is derived once per record by priority and compared structurally.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// IdentityTriple is the raw (asnNumber, doNumber, invoice) key as the feed and the
// ledger carry it. Empty strings mean absent.
type IdentityTriple struct {
	AsnNumber string
	DoNumber  string
	Invoice   string
}

// NewIdentityTriple trims the three keys so whitespace-only values count as absent.
func NewIdentityTriple(asn, do, invoice string) IdentityTriple {
	return IdentityTriple{
		AsnNumber: strings.TrimSpace(asn),
		DoNumber:  strings.TrimSpace(do),
		Invoice:   strings.TrimSpace(invoice),
	}
}

// Identity picks the authoritative key: asn, else do, else invoice.
func (t IdentityTriple) Identity() Identity {
	switch {
	case t.AsnNumber != "":
		return Identity{Kind: IdentityASN, Value: t.AsnNumber}
	case t.DoNumber != "":
		return Identity{Kind: IdentityDO, Value: t.DoNumber}
	case t.Invoice != "":
		return Identity{Kind: IdentityInvoice, Value: t.Invoice}
	default:
		return Identity{}
	}
}

// IsZero reports whether none of the three keys was present.
func (i Identity) IsZero() bool { return i.Kind == IdentityNone }

// Matches is structural equality; two records without any key never match.
func (i Identity) Matches(o Identity) bool {
	return !i.IsZero() && i == o
}

func (i Identity) String() string {
	if i.IsZero() {
		return "none"
	}
	return i.Kind.String() + ":" + i.Value
}

// OptionalString maps "" to nil so absent keys are stored as NULL.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences a nullable column, returning "" for NULL.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
