package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/model"
)

func TestHTTPClient_ListRules_PaginatesUntilLastPage(t *testing.T) {
	var pagesSeen []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req listRulesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		pagesSeen = append(pagesSeen, req.Page)

		resp := listRulesResponse{Paging: model.Paging{TotalPages: 2, ThisPage: req.Page}}
		if req.Page == 1 {
			resp.Rules = []model.RuleSpec{{ID: "r1"}}
		} else {
			resp.Rules = []model.RuleSpec{{ID: "r2"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil)
	rules, err := client.ListRules(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, pagesSeen)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "r2", rules[1].ID)
}

func TestHTTPClient_ListRules_NonSuccessStatusIsCatalogUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil)
	_, err := client.ListRules(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCatalogUnavailable(err))
}

func TestHTTPClient_ListRules_MalformedResponseIsCatalogUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil)
	_, err := client.ListRules(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCatalogUnavailable(err))
}

func TestHTTPClient_ListDataModels_PaginatesUntilLastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req listDataModelsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := listDataModelsResponse{Paging: model.Paging{TotalPages: 1, ThisPage: req.Page}}
		resp.Models = []model.DataModelSpec{{ID: "dm1"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, nil)
	models, err := client.ListDataModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "dm1", models[0].ID)
}

func TestFake_ListRules_CountsCallsAndReturnsConfiguredRules(t *testing.T) {
	fake := &Fake{Rules: []model.RuleSpec{{ID: "r1"}}}
	rules, err := fake.ListRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, 1, fake.ListedRules)
}

func TestFake_ListRules_ReturnsConfiguredError(t *testing.T) {
	sentinel := assertError{}
	fake := &Fake{Err: sentinel}
	_, err := fake.ListRules(context.Background())
	assert.Equal(t, sentinel, err)
}

type assertError struct{}

func (assertError) Error() string { return "forced failure" }
