// Package catalog implements the outbound client to the external
// rule/data-model authoring service (spec §6 "Catalog API"). The catalog
// itself is explicitly out of this module's scope (spec §1); this
// package only depends on its two paginated list operations.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/model"
)

// PageSize is the page size requested on every catalog list call.
const PageSize = 1000

// Client is the outbound port the Registry polls for the enabled rule and
// data-model sets.
type Client interface {
	ListRules(ctx context.Context) ([]model.RuleSpec, error)
	ListDataModels(ctx context.Context) ([]model.DataModelSpec, error)
}

// HTTPClient implements Client over a JSON/HTTP catalog endpoint, mirroring
// the request/response envelope of spec §6 (listRules/listDataModels with
// a paging envelope).
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs an HTTPClient. httpClient may be nil, in which
// case a client with a 10s timeout is used, matching the conservative
// timeouts the rest of this module's outbound adapters use.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	hc := httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, client: hc}
}

type listRulesRequest struct {
	ListRules listRulesFilter `json:"listRules"`
	Page      int             `json:"page"`
}

type listRulesFilter struct {
	Enabled  bool     `json:"enabled"`
	Fields   []string `json:"fields"`
	PageSize int      `json:"pageSize"`
}

type listRulesResponse struct {
	Rules  []model.RuleSpec `json:"rules"`
	Paging model.Paging     `json:"paging"`
}

var ruleFields = []string{"body", "id", "logTypes", "outputIds", "reports", "severity", "tags", "versionId", "dedupPeriodMinutes"}

// ListRules fetches every enabled rule across all catalog pages.
func (c *HTTPClient) ListRules(ctx context.Context) ([]model.RuleSpec, error) {
	var all []model.RuleSpec
	page, totalPages := 1, 1

	for page <= totalPages {
		reqBody := listRulesRequest{
			ListRules: listRulesFilter{Enabled: true, Fields: ruleFields, PageSize: PageSize},
			Page:      page,
		}
		var resp listRulesResponse
		if err := c.post(ctx, "/listRules", reqBody, &resp); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeCatalogUnavailable, "list rules page %d", page)
		}
		all = append(all, resp.Rules...)
		totalPages = resp.Paging.TotalPages
		page++
	}

	return all, nil
}

type listDataModelsRequest struct {
	ListDataModels listDataModelsFilter `json:"listDataModels"`
	Page           int                  `json:"page"`
}

type listDataModelsFilter struct {
	Enabled  bool `json:"enabled"`
	PageSize int  `json:"pageSize"`
}

type listDataModelsResponse struct {
	Models []model.DataModelSpec `json:"models"`
	Paging model.Paging          `json:"paging"`
}

// ListDataModels fetches every enabled data model across all catalog pages.
func (c *HTTPClient) ListDataModels(ctx context.Context) ([]model.DataModelSpec, error) {
	var all []model.DataModelSpec
	page, totalPages := 1, 1

	for page <= totalPages {
		reqBody := listDataModelsRequest{
			ListDataModels: listDataModelsFilter{Enabled: true, PageSize: PageSize},
			Page:           page,
		}
		var resp listDataModelsResponse
		if err := c.post(ctx, "/listDataModels", reqBody, &resp); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeCatalogUnavailable, "list data models page %d", page)
		}
		all = append(all, resp.Models...)
		totalPages = resp.Paging.TotalPages
		page++
	}

	return all, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("catalog returned %s: %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
