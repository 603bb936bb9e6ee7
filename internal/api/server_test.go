package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/dmoreno/subsidy-registry/internal/config"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
)

type stubTables struct{}

func (stubTables) ReferenceRate(_ context.Context, on time.Time) (decimal.Decimal, error) {
	if on.Year() < 2020 {
		return decimal.Zero, fmt.Errorf("no rate on file")
	}
	return decimal.NewFromFloat(0.04), nil
}

func (stubTables) PremiumRate(_ context.Context, rating string, _ time.Time) (decimal.Decimal, error) {
	if rating != "BBB" {
		return decimal.Zero, fmt.Errorf("unknown rating %s", rating)
	}
	return decimal.NewFromFloat(0.008), nil
}

func (stubTables) Ceiling(_ context.Context, fiscalYear int, _ string) (decimal.Decimal, error) {
	return decimal.NewFromInt(300000), nil
}

func (stubTables) CumulativeAid(_ context.Context, _ string, _ time.Time) (decimal.Decimal, error) {
	return decimal.NewFromInt(100000), nil
}

func testServer() *Server {
	engine := equivalence.New(stubTables{}, stubTables{}, stubTables{}, stubTables{})
	cfg := &config.Settings{Port: "0", CORSOrigins: []string{"http://localhost:4200"}}
	return NewServer(nil, cfg, engine)
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestEquivalenceEndpoint_DirectGrant(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/equivalence",
		`{"nominal": "5000", "grant_date": "2024-03-01", "instrument": "direct_grant"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"equivalent":"5000"`) {
		t.Fatalf("expected equivalent 5000 in body: %s", rec.Body)
	}
}

func TestEquivalenceEndpoint_LoanBelowReference(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/equivalence",
		`{"nominal": "100000", "grant_date": "2024-03-01", "instrument": "loan",
		  "instrument_meta": {"term_months": 60, "annual_rate": "0.005"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
}

func TestEquivalenceEndpoint_BadDate(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/equivalence",
		`{"nominal": "5000", "grant_date": "01/03/2024", "instrument": "direct_grant"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}
}

func TestEquivalenceEndpoint_MissingRateIsUnprocessable(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/equivalence",
		`{"nominal": "100000", "grant_date": "2015-03-01", "instrument": "loan",
		  "instrument_meta": {"term_months": 60, "annual_rate": "0.005"}}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body)
	}
}

func TestEquivalenceEndpoint_UnsupportedInstrument(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/equivalence",
		`{"nominal": "5000", "grant_date": "2024-03-01", "instrument": "tax_benefit"}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body)
	}
}

func TestEquivalenceEndpoint_IncompleteLoanMetadata(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/equivalence",
		`{"nominal": "100000", "grant_date": "2024-03-01", "instrument": "loan"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}
}

func TestMinimisCheckRequiresAuth(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/minimis/check",
		`{"beneficiary_nif": "B12345678", "proposed": "1000", "grant_date": "2024-03-01"}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body)
	}
}

func TestSyncRequiresAdmin(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/api/v1/sync", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body)
	}
}

func TestEquivalenceStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", equivalence.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: nope", equivalence.ErrUnsupportedInstrument), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: gone", equivalence.ErrDataUnavailable), http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := equivalenceStatus(tc.err); got != tc.want {
			t.Errorf("equivalenceStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
