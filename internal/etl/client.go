package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ConcessionRecord is one row of the registry's concession search API. Field
// tags follow the upstream JSON names.
type ConcessionRecord struct {
	ID               int64  `json:"id"`
	RegistryCode     string `json:"numeroConvocatoria"`
	CallTitle        string `json:"convocatoria"`
	CallDescription  string `json:"descripcionConvocatoria"`
	AgencyLevel1     string `json:"nivel1"`
	AgencyLevel2     string `json:"nivel2"`
	AgencyLevel3     string `json:"nivel3"`
	AwardCode        string `json:"codConcesion"`
	BeneficiaryNIF   string `json:"idPersona"`
	BeneficiaryName  string `json:"beneficiario"`
	InstrumentRaw    string `json:"instrumento"`
	RegimeRaw        string `json:"reglamento"`
	GrantDateRaw     string `json:"fechaConcesion"`
	NominalRaw       string `json:"importe"`
	EquivalentRaw    string `json:"ayudaEquivalente"`
	Budget           string `json:"presupuestoTotal"`
	Regulation       string `json:"regulacion"`
	OfficeURL        string `json:"sedeElectronica"`
	BasisURL         string `json:"urlBasesReguladoras"`
	MRR              bool   `json:"mrr"`
	Open             bool   `json:"abierto"`
	InstrumentDetail map[string]interface{} `json:"detalleInstrumento"`
}

type concessionPage struct {
	Content    []ConcessionRecord `json:"content"`
	Page       int                `json:"page"`
	TotalPages int                `json:"totalPages"`
	TotalCount int                `json:"totalElements"`
}

// Client fetches concession pages from the official registry API.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	PageSize   int
	MaxRetries int
}

func NewClient(baseURL string, pageSize int, timeout time.Duration, maxRetries int) *Client {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    baseURL,
		PageSize:   pageSize,
		MaxRetries: maxRetries,
	}
}

// FetchConcessions retrieves one page of concessions granted inside [from, to].
// Pages are zero-based; the second return value reports whether more pages
// remain.
func (c *Client) FetchConcessions(ctx context.Context, from, to time.Time, page int) ([]ConcessionRecord, bool, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(c.PageSize))
	q.Set("fechaDesde", from.Format("02/01/2006"))
	q.Set("fechaHasta", to.Format("02/01/2006"))

	endpoint := c.BaseURL + "/concesiones/busqueda?" + q.Encode()

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, false, err
	}

	var resp concessionPage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, fmt.Errorf("decoding concessions page %d: %w", page, err)
	}

	log.Printf("[etl] page %d/%d: %d concessions", page+1, resp.TotalPages, len(resp.Content))
	return resp.Content, page+1 < resp.TotalPages, nil
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading response: %w", err)
			}
			return body, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		if !retryableStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
