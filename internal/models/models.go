package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aid regimes as normalized in the registry.
const (
	RegimeMinimis  = "minimis"
	RegimeStateAid = "state_aid"
	RegimeNotified = "notified"
	RegimeOrdinary = "ordinary"
)

// Call is a funding call (convocatoria) published in the national registry.
type Call struct {
	ID                  uuid.UUID              `json:"id"`
	RegistryCode        string                 `json:"registry_code"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description"`
	AgencyLevel1        string                 `json:"agency_level1"`
	AgencyLevel2        string                 `json:"agency_level2"`
	AgencyLevel3        string                 `json:"agency_level3"`
	TotalBudget         decimal.Decimal        `json:"total_budget"`
	Regulation          string                 `json:"regulation"`
	ElectronicOfficeURL string                 `json:"electronic_office_url"`
	RegulationBasisURL  string                 `json:"regulation_basis_url"`
	ReceivedAt          *time.Time             `json:"received_at"`
	ApplicationOpenAt   *time.Time             `json:"application_open_at"`
	ApplicationCloseAt  *time.Time             `json:"application_close_at"`
	Open                bool                   `json:"open"`
	MRR                 bool                   `json:"mrr"`
	SourceJSON          map[string]interface{} `json:"source_json,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Beneficiary is an aid recipient. NIF may be anonymized with asterisks for
// natural persons.
type Beneficiary struct {
	ID            uuid.UUID `json:"id"`
	NIF           string    `json:"nif"`
	Name          string    `json:"name"`
	NameNorm      string    `json:"name_norm"`
	LegalForm     string    `json:"legal_form"`
	LegalFormCode string    `json:"legal_form_code"`
	EntityType    string    `json:"entity_type"` // public, private, unknown
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Award is a single concession of aid under a call.
type Award struct {
	ID               uuid.UUID              `json:"id"`
	AwardCode        string                 `json:"award_code"`
	CallID           uuid.UUID              `json:"call_id"`
	BeneficiaryID    uuid.UUID              `json:"beneficiary_id"`
	GrantDate        time.Time              `json:"grant_date"`
	AidRegime        string                 `json:"aid_regime"`
	Instrument       string                 `json:"instrument"`
	InstrumentMeta   map[string]interface{} `json:"instrument_meta,omitempty"`
	NominalAmount    decimal.Decimal        `json:"nominal_amount"`
	EquivalentAmount decimal.Decimal        `json:"equivalent_amount"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Amount is the figure that counts for reporting: the gross grant equivalent
// for state aid, the nominal amount otherwise.
func (a Award) Amount() decimal.Decimal {
	if a.AidRegime == RegimeStateAid || a.AidRegime == RegimeMinimis {
		return a.EquivalentAmount
	}
	return a.NominalAmount
}

// User is an account for the portal or the ETL admin.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// EtlRun tracks one execution of the sync pipeline.
type EtlRun struct {
	ID               uuid.UUID  `json:"id"`
	RunType          string     `json:"run_type"` // seeding, sync
	Status           string     `json:"status"`   // running, completed, failed
	WindowStart      *time.Time `json:"window_start"`
	WindowEnd        *time.Time `json:"window_end"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsInserted  int        `json:"records_inserted"`
	RecordsUpdated   int        `json:"records_updated"`
	RecordsErrors    int        `json:"records_errors"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Error            string     `json:"error,omitempty"`
}
