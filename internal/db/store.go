package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmoreno/subsidy-registry/internal/models"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrBeneficiaryNotFound  = errors.New("beneficiary not found")
	ErrCumulativeUnreadable = errors.New("cumulative aid could not be read")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type AwardListParams struct {
	BeneficiaryNIF string
	RegistryCode   string
	AidRegime      string
	Instrument     string
	FromDate       *time.Time
	ToDate         *time.Time
	Limit          int
	Offset         int
}

type AwardListResult struct {
	Awards []models.Award `json:"awards"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// awardCols casts numeric columns to text so amounts scan losslessly into
// decimals.
const awardCols = `a.id, a.award_code, a.call_id, a.beneficiary_id, a.grant_date,
	a.aid_regime, a.instrument, a.instrument_meta,
	a.nominal_amount::text, a.equivalent_amount::text, a.created_at, a.updated_at`

// buildAwardFilter turns list params into a WHERE clause with positional
// arguments. The clause always constrains at least "1=1" so callers can
// append it unconditionally.
func buildAwardFilter(p AwardListParams) (string, []interface{}) {
	clauses := []string{"1=1"}
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if p.BeneficiaryNIF != "" {
		add("b.nif = $%d", p.BeneficiaryNIF)
	}
	if p.RegistryCode != "" {
		add("c.registry_code = $%d", p.RegistryCode)
	}
	if p.AidRegime != "" {
		add("a.aid_regime = $%d", p.AidRegime)
	}
	if p.Instrument != "" {
		add("a.instrument = $%d", p.Instrument)
	}
	if p.FromDate != nil {
		add("a.grant_date >= $%d", *p.FromDate)
	}
	if p.ToDate != nil {
		add("a.grant_date <= $%d", *p.ToDate)
	}

	return strings.Join(clauses, " AND "), args
}

func scanAward(scan func(dest ...interface{}) error) (models.Award, error) {
	var a models.Award
	var metaRaw []byte
	var nominal, equivalent string

	err := scan(
		&a.ID, &a.AwardCode, &a.CallID, &a.BeneficiaryID, &a.GrantDate,
		&a.AidRegime, &a.Instrument, &metaRaw,
		&nominal, &equivalent, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}

	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &a.InstrumentMeta)
	}
	if a.NominalAmount, err = decimal.NewFromString(nominal); err != nil {
		return a, fmt.Errorf("award %s: bad nominal amount %q: %w", a.AwardCode, nominal, err)
	}
	if a.EquivalentAmount, err = decimal.NewFromString(equivalent); err != nil {
		return a, fmt.Errorf("award %s: bad equivalent amount %q: %w", a.AwardCode, equivalent, err)
	}
	return a, nil
}

func (s *Store) ListAwards(ctx context.Context, p AwardListParams) (*AwardListResult, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	filter, args := buildAwardFilter(p)
	from := `FROM awards a
		JOIN beneficiaries b ON b.id = a.beneficiary_id
		JOIN calls c ON c.id = a.call_id
		WHERE ` + filter

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) "+from, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting awards: %w", err)
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY a.grant_date DESC, a.award_code LIMIT $%d OFFSET $%d",
		awardCols, from, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing awards: %w", err)
	}
	defer rows.Close()

	result := &AwardListResult{Total: total, Limit: p.Limit, Offset: p.Offset}
	for rows.Next() {
		a, err := scanAward(rows.Scan)
		if err != nil {
			return nil, err
		}
		result.Awards = append(result.Awards, a)
	}
	return result, rows.Err()
}

func (s *Store) GetAward(ctx context.Context, id uuid.UUID) (*models.Award, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+awardCols+" FROM awards a WHERE a.id = $1", id)
	a, err := scanAward(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetBeneficiaryByNIF(ctx context.Context, nif string) (*models.Beneficiary, error) {
	var b models.Beneficiary
	err := s.pool.QueryRow(ctx, `
		SELECT id, nif, name, name_norm, legal_form, legal_form_code, entity_type, created_at, updated_at
		FROM beneficiaries WHERE nif = $1
		ORDER BY created_at LIMIT 1
	`, nif).Scan(&b.ID, &b.NIF, &b.Name, &b.NameNorm, &b.LegalForm, &b.LegalFormCode, &b.EntityType, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertCall inserts or refreshes a call keyed on its registry code.
func (s *Store) UpsertCall(ctx context.Context, c *models.Call) (uuid.UUID, bool, error) {
	sourceJSON, err := json.Marshal(c.SourceJSON)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("encoding call source: %w", err)
	}

	var id uuid.UUID
	var inserted bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO calls (registry_code, title, description, agency_level1, agency_level2, agency_level3,
			total_budget, regulation, electronic_office_url, regulation_basis_url,
			received_at, application_open_at, application_close_at, open, mrr, source_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (registry_code) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			agency_level1 = EXCLUDED.agency_level1,
			agency_level2 = EXCLUDED.agency_level2,
			agency_level3 = EXCLUDED.agency_level3,
			total_budget = EXCLUDED.total_budget,
			regulation = EXCLUDED.regulation,
			electronic_office_url = EXCLUDED.electronic_office_url,
			regulation_basis_url = EXCLUDED.regulation_basis_url,
			received_at = EXCLUDED.received_at,
			application_open_at = EXCLUDED.application_open_at,
			application_close_at = EXCLUDED.application_close_at,
			open = EXCLUDED.open,
			mrr = EXCLUDED.mrr,
			source_json = EXCLUDED.source_json,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, c.RegistryCode, c.Title, c.Description, c.AgencyLevel1, c.AgencyLevel2, c.AgencyLevel3,
		c.TotalBudget, c.Regulation, c.ElectronicOfficeURL, c.RegulationBasisURL,
		c.ReceivedAt, c.ApplicationOpenAt, c.ApplicationCloseAt, c.Open, c.MRR, sourceJSON,
	).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upserting call %s: %w", c.RegistryCode, err)
	}
	return id, inserted, nil
}

// UpsertBeneficiary dedupes on (nif, name_norm): anonymized NIFs collide
// across distinct natural persons, so the normalized name disambiguates.
func (s *Store) UpsertBeneficiary(ctx context.Context, b *models.Beneficiary) (uuid.UUID, bool, error) {
	var id uuid.UUID
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO beneficiaries (nif, name, name_norm, legal_form, legal_form_code, entity_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (nif, name_norm) DO UPDATE SET
			name = EXCLUDED.name,
			legal_form = EXCLUDED.legal_form,
			legal_form_code = EXCLUDED.legal_form_code,
			entity_type = EXCLUDED.entity_type,
			updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, b.NIF, b.Name, b.NameNorm, b.LegalForm, b.LegalFormCode, b.EntityType).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upserting beneficiary %s: %w", b.NIF, err)
	}
	return id, inserted, nil
}

func (s *Store) UpsertAward(ctx context.Context, a *models.Award) (bool, error) {
	meta, err := json.Marshal(a.InstrumentMeta)
	if err != nil {
		return false, fmt.Errorf("encoding instrument metadata: %w", err)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO awards (award_code, call_id, beneficiary_id, grant_date, aid_regime,
			instrument, instrument_meta, nominal_amount, equivalent_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (award_code) DO UPDATE SET
			grant_date = EXCLUDED.grant_date,
			aid_regime = EXCLUDED.aid_regime,
			instrument = EXCLUDED.instrument,
			instrument_meta = EXCLUDED.instrument_meta,
			nominal_amount = EXCLUDED.nominal_amount,
			equivalent_amount = EXCLUDED.equivalent_amount,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, a.AwardCode, a.CallID, a.BeneficiaryID, a.GrantDate, a.AidRegime,
		a.Instrument, meta, a.NominalAmount, a.EquivalentAmount).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upserting award %s: %w", a.AwardCode, err)
	}
	return inserted, nil
}

// UpdateAwardEquivalent rewrites a stored equivalent amount (used by the
// recompute tool after a regulatory table change).
func (s *Store) UpdateAwardEquivalent(ctx context.Context, id uuid.UUID, equivalent decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE awards SET equivalent_amount = $2, updated_at = NOW() WHERE id = $1
	`, id, equivalent)
	return err
}

// CumulativeMinimisAid sums the equivalent amounts of minimis awards to a
// beneficiary within the rolling three-year window ending at asOf. An unknown
// beneficiary is an error, never zero: the caller must be able to tell "no
// prior aid" apart from "no such beneficiary".
func (s *Store) CumulativeMinimisAid(ctx context.Context, beneficiaryID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM beneficiaries WHERE id = $1)", beneficiaryID).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrCumulativeUnreadable, err)
	}
	if !exists {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrBeneficiaryNotFound, beneficiaryID)
	}

	var sum string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(equivalent_amount), 0)::text
		FROM awards
		WHERE beneficiary_id = $1
		  AND aid_regime = $2
		  AND grant_date > $3::date - INTERVAL '3 years'
		  AND grant_date <= $3
	`, beneficiaryID, models.RegimeMinimis, asOf).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrCumulativeUnreadable, err)
	}
	return decimal.NewFromString(sum)
}

// CumulativeAid adapts CumulativeMinimisAid to the equivalence engine's
// lookup port, which carries beneficiary ids as strings.
func (s *Store) CumulativeAid(ctx context.Context, beneficiaryID string, asOf time.Time) (decimal.Decimal, error) {
	id, err := uuid.Parse(beneficiaryID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad beneficiary id %q", ErrBeneficiaryNotFound, beneficiaryID)
	}
	return s.CumulativeMinimisAid(ctx, id, asOf)
}

// Stats powers the portal's public stats endpoint.
type Stats struct {
	Calls         int    `json:"calls"`
	Beneficiaries int    `json:"beneficiaries"`
	Awards        int    `json:"awards"`
	TotalNominal  string `json:"total_nominal"`
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM calls),
			(SELECT COUNT(*) FROM beneficiaries),
			(SELECT COUNT(*) FROM awards),
			(SELECT COALESCE(SUM(nominal_amount), 0)::text FROM awards)
	`).Scan(&st.Calls, &st.Beneficiaries, &st.Awards, &st.TotalNominal)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return &st, nil
}

// ETL run tracking

func (s *Store) StartEtlRun(ctx context.Context, runType string, windowStart, windowEnd *time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO etl_runs (run_type, status, window_start, window_end, started_at)
		VALUES ($1, 'running', $2, $3, NOW())
		RETURNING id
	`, runType, windowStart, windowEnd).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("starting etl run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishEtlRun(ctx context.Context, id uuid.UUID, status string, processed, inserted, updated, failures int, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_runs SET status = $2, records_processed = $3, records_inserted = $4,
			records_updated = $5, records_errors = $6, error = NULLIF($7, ''), completed_at = NOW()
		WHERE id = $1
	`, id, status, processed, inserted, updated, failures, errMsg)
	return err
}

func (s *Store) ListEtlRuns(ctx context.Context, limit int) ([]models.EtlRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_type, status, window_start, window_end,
			records_processed, records_inserted, records_updated, records_errors,
			started_at, completed_at, COALESCE(error, '')
		FROM etl_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.EtlRun
	for rows.Next() {
		var r models.EtlRun
		if err := rows.Scan(&r.ID, &r.RunType, &r.Status, &r.WindowStart, &r.WindowEnd,
			&r.RecordsProcessed, &r.RecordsInserted, &r.RecordsUpdated, &r.RecordsErrors,
			&r.StartedAt, &r.CompletedAt, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
