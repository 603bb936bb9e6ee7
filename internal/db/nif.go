package db

import "strings"

// Legal forms by NIF prefix letter, per Orden EHA/451/2008.
var legalFormsByNIFPrefix = map[byte]string{
	'A': "Sociedad Anónima (SA)",
	'B': "Sociedad de Responsabilidad Limitada (SL)",
	'C': "Sociedad Colectiva",
	'D': "Sociedad Comanditaria",
	'E': "Comunidades de Bienes",
	'F': "Sociedad Cooperativa",
	'G': "Asociaciones",
	'H': "Comunidades de Propietarios en régimen de propiedad horizontal",
	'J': "Sociedades Civiles",
	'N': "Entidades no residentes en España",
	'P': "Corporaciones Locales",
	'Q': "Organismos Públicos",
	'R': "Congregaciones e instituciones religiosas",
	'S': "Órganos de la Administración del Estado y Comunidades Autónomas",
	'U': "Uniones Temporales de Empresas (UTE)",
	'V': "Otros tipos no definidos",
	'W': "Establecimientos permanentes de entidades no residentes en España",
}

const (
	LegalFormNaturalPerson = "Persona física"
	LegalFormUnknown       = "Desconocido"
)

// LegalFormFromNIF interprets the legal form from a NIF. Anonymized NIFs
// (asterisks, GDPR) and NIFs starting with a digit or X/Y/Z (DNI/NIE) are
// natural persons; a known prefix letter selects the catalog entry.
func LegalFormFromNIF(nif string) string {
	clean := strings.ToUpper(strings.TrimSpace(nif))
	if clean == "" {
		return LegalFormUnknown
	}
	if strings.Contains(clean, "*") {
		return LegalFormNaturalPerson
	}

	first := clean[0]
	if form, ok := legalFormsByNIFPrefix[first]; ok {
		return form
	}
	if first >= '0' && first <= '9' {
		return LegalFormNaturalPerson
	}
	if first == 'X' || first == 'Y' || first == 'Z' {
		return LegalFormNaturalPerson
	}
	return LegalFormUnknown
}

// NaturalCodeFromNIF returns the catalog index code for a NIF: the prefix
// letter for legal entities, "*" for natural persons, "?" when unknown.
func NaturalCodeFromNIF(nif string) string {
	clean := strings.ToUpper(strings.TrimSpace(nif))
	if clean == "" {
		return "?"
	}
	if strings.Contains(clean, "*") {
		return "*"
	}

	first := clean[0]
	if _, ok := legalFormsByNIFPrefix[first]; ok {
		return string(first)
	}
	if (first >= '0' && first <= '9') || first == 'X' || first == 'Y' || first == 'Z' {
		return "*"
	}
	return "?"
}

// IsNaturalPerson reports whether a NIF belongs to a natural person.
func IsNaturalPerson(nif string) bool {
	return LegalFormFromNIF(nif) == LegalFormNaturalPerson
}

// EntityTypeFromNIF classifies a beneficiary as public, private or unknown.
// P, Q and S prefixes are public-sector entities.
func EntityTypeFromNIF(nif string) string {
	clean := strings.ToUpper(strings.TrimSpace(nif))
	if clean == "" || strings.Contains(clean, "*") {
		return "unknown"
	}

	first := clean[0]
	switch first {
	case 'P', 'Q', 'S':
		return "public"
	}
	if _, ok := legalFormsByNIFPrefix[first]; ok {
		return "private"
	}
	if (first >= '0' && first <= '9') || first == 'X' || first == 'Y' || first == 'Z' {
		return "private"
	}
	return "unknown"
}
