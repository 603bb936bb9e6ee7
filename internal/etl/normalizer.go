package etl

import (
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/dmoreno/subsidy-registry/internal/db"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
	"github.com/dmoreno/subsidy-registry/internal/models"
)

var sanitizer = bluemonday.StrictPolicy()

// NormalizedRecord is a concession mapped to registry models, ready to upsert.
// The award's equivalent amount is filled later by the pipeline.
type NormalizedRecord struct {
	Call        models.Call
	Beneficiary models.Beneficiary
	Award       models.Award
}

// Normalize maps one raw API record to registry models. It fails on anything
// that would corrupt downstream calculations (unparseable date or amount,
// missing natural keys); cosmetic fields degrade to empty values.
func Normalize(rec ConcessionRecord) (*NormalizedRecord, error) {
	if rec.RegistryCode == "" {
		return nil, fmt.Errorf("record %d: missing registry code", rec.ID)
	}
	if rec.AwardCode == "" {
		return nil, fmt.Errorf("record %d: missing award code", rec.ID)
	}

	grantDate, err := parseDate(rec.GrantDateRaw)
	if err != nil {
		return nil, fmt.Errorf("award %s: %w", rec.AwardCode, err)
	}
	nominal, err := parseAmount(rec.NominalRaw)
	if err != nil {
		return nil, fmt.Errorf("award %s: nominal: %w", rec.AwardCode, err)
	}
	budget, err := parseAmount(rec.Budget)
	if err != nil {
		budget = decimal.Zero
	}

	nif := strings.ToUpper(strings.TrimSpace(rec.BeneficiaryNIF))
	name := strings.TrimSpace(rec.BeneficiaryName)
	if nif == "" && name == "" {
		return nil, fmt.Errorf("award %s: beneficiary is empty", rec.AwardCode)
	}

	call := models.Call{
		RegistryCode:        rec.RegistryCode,
		Title:               strings.TrimSpace(sanitizer.Sanitize(rec.CallTitle)),
		Description:         strings.TrimSpace(sanitizer.Sanitize(rec.CallDescription)),
		AgencyLevel1:        strings.TrimSpace(rec.AgencyLevel1),
		AgencyLevel2:        strings.TrimSpace(rec.AgencyLevel2),
		AgencyLevel3:        strings.TrimSpace(rec.AgencyLevel3),
		TotalBudget:         budget,
		Regulation:          strings.TrimSpace(rec.Regulation),
		ElectronicOfficeURL: strings.TrimSpace(rec.OfficeURL),
		RegulationBasisURL:  strings.TrimSpace(rec.BasisURL),
		Open:                rec.Open,
		MRR:                 rec.MRR,
	}

	beneficiary := models.Beneficiary{
		NIF:           nif,
		Name:          name,
		NameNorm:      db.Normalize(name),
		LegalForm:     db.LegalFormFromNIF(nif),
		LegalFormCode: db.NaturalCodeFromNIF(nif),
		EntityType:    db.EntityTypeFromNIF(nif),
	}

	award := models.Award{
		AwardCode:      rec.AwardCode,
		GrantDate:      grantDate,
		AidRegime:      regimeFromRaw(rec.RegimeRaw),
		Instrument:     string(instrumentFromRaw(rec.InstrumentRaw)),
		InstrumentMeta: rec.InstrumentDetail,
		NominalAmount:  nominal,
	}
	// The feed's own equivalent figure is an upstream hint; the pipeline
	// overwrites it whenever the engine can value the instrument itself.
	if upstream, err := parseAmount(rec.EquivalentRaw); err == nil {
		award.EquivalentAmount = upstream
	}

	return &NormalizedRecord{Call: call, Beneficiary: beneficiary, Award: award}, nil
}

// instrumentFromRaw maps the registry's Spanish instrument descriptions onto
// the engine's instrument catalog.
func instrumentFromRaw(raw string) equivalence.InstrumentKind {
	up := db.Normalize(raw)
	switch {
	case strings.Contains(up, "SUBVENCION"), strings.Contains(up, "ENTREGA DINERARIA"):
		return equivalence.KindDirectGrant
	case strings.Contains(up, "PRESTAMO"), strings.Contains(up, "ANTICIPO"):
		return equivalence.KindLoan
	case strings.Contains(up, "GARANTIA"), strings.Contains(up, "AVAL"):
		return equivalence.KindGuarantee
	case strings.Contains(up, "FISCAL"):
		return equivalence.KindTaxBenefit
	case strings.Contains(up, "CAPITAL"), strings.Contains(up, "FINANCIACION RIESGO"):
		return equivalence.KindEquity
	default:
		return equivalence.KindOther
	}
}

func regimeFromRaw(raw string) string {
	up := db.Normalize(raw)
	switch {
	case strings.Contains(up, "MINIMIS"):
		return models.RegimeMinimis
	case strings.Contains(up, "EXENCION"), strings.Contains(up, "651/2014"):
		return models.RegimeStateAid
	case strings.Contains(up, "NOTIFICAD"):
		return models.RegimeNotified
	default:
		return models.RegimeOrdinary
	}
}

// parseDate accepts the two formats the API has been seen to emit.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

// parseAmount handles both dotted-thousands Spanish formatting ("1.234,56")
// and plain decimal strings.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable amount %q", raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", raw)
	}
	return d, nil
}
