/*
Copyright 2024 Sunogate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunogate/sunogate/internal/request"
	"github.com/sunogate/sunogate/model"
	"github.com/sunogate/sunogate/suno"
)

func TestAddCookies(t *testing.T) {
	router, ds, upstream := setupRouter(t)

	good := "__client=" + gofakeit.UUID()
	bad := "__client=" + gofakeit.UUID()
	upstream.On("Authenticate", mock.Anything, good).Return("jwt-good", nil)
	upstream.On("GetBalance", mock.Anything, "jwt-good").Return(15, nil)
	upstream.On("Authenticate", mock.Anything, bad).Return("", suno.ErrSessionInvalid)
	ds.On("AddCredentials", mock.Anything, []string{good}, 15).Return(int64(1), nil)

	payload, err := request.ToJsonReq(map[string]interface{}{"cookies": []string{good, bad}})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/cookies",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body["added"])
	assert.Equal(t, 1, body["rejected"])
}

func TestAddCookies_EmptyBody(t *testing.T) {
	router, _, _ := setupRouter(t)

	payload, err := request.ToJsonReq(map[string]interface{}{"cookies": []string{}})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/cookies",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateCookie(t *testing.T) {
	router, ds, _ := setupRouter(t)

	ds.On("SetRemainingUses", mock.Anything, "__client=abc", 7).Return(nil)

	payload, err := request.ToJsonReq(map[string]interface{}{"cookie": "__client=abc", "remaining_uses": 7})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPut,
		Route:   "/cookies",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	ds.AssertCalled(t, "SetRemainingUses", mock.Anything, "__client=abc", 7)
}

func TestUpdateCookie_Delta(t *testing.T) {
	router, ds, _ := setupRouter(t)

	ds.On("AdjustBalance", mock.Anything, "__client=abc", -2).Return(nil)

	payload, err := request.ToJsonReq(map[string]interface{}{"cookie": "__client=abc", "delta": -2})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPut,
		Route:   "/cookies",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	ds.AssertCalled(t, "AdjustBalance", mock.Anything, "__client=abc", -2)
	ds.AssertNotCalled(t, "SetRemainingUses", mock.Anything, "__client=abc", mock.Anything)
}

func TestDeleteCookie(t *testing.T) {
	router, ds, _ := setupRouter(t)

	ds.On("DeleteCredential", mock.Anything, "__client=abc").Return(nil)

	payload, err := request.ToJsonReq(map[string]interface{}{"cookie": "__client=abc"})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodDelete,
		Route:   "/cookies",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRefreshCookies(t *testing.T) {
	router, ds, upstream := setupRouter(t)

	ds.On("GetAllCredentials", mock.Anything).Return([]model.Credential{
		{Secret: "__client=live", RemainingUses: 2, Status: model.StatusAvailable},
	}, nil)
	upstream.On("Authenticate", mock.Anything, "__client=live").Return("jwt-live", nil)
	upstream.On("GetBalance", mock.Anything, "jwt-live").Return(9, nil)
	ds.On("SetRemainingUses", mock.Anything, "__client=live", 9).Return(nil)

	resp := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/refresh/cookies",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body["refreshed"])
	assert.Equal(t, 0, body["evicted"])
}

func TestEvictInvalidCookies(t *testing.T) {
	router, ds, _ := setupRouter(t)

	ds.On("GetExhaustedCredentials", mock.Anything).Return([]model.Credential{
		{Secret: "__client=dead", RemainingUses: -1, Status: model.StatusExhausted},
	}, nil)
	ds.On("DeleteCredential", mock.Anything, "__client=dead").Return(nil)

	resp := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodDelete,
		Route:  "/refresh/cookies",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 1, body["removed"])
}

func TestPoolStats(t *testing.T) {
	router, ds, _ := setupRouter(t)

	ds.On("GetPoolStats", mock.Anything).Return(&model.PoolStats{
		TotalRemaining: 42,
		ValidCount:     7,
		InvalidCount:   2,
	}, nil)

	resp := SetUpTestRequest(TestRequest{
		Router: router,
		Method: http.MethodGet,
		Route:  "/stats",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var stats model.PoolStats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, 42, stats.TotalRemaining)
	assert.Equal(t, 7, stats.ValidCount)
}
