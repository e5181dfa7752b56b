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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunogate/sunogate"
	"github.com/sunogate/sunogate/config"
	"github.com/sunogate/sunogate/database/mocks"
	"github.com/sunogate/sunogate/internal/request"
	"github.com/sunogate/sunogate/model"
)

const testAuthKey = "sk-sunogate-test"

type TestRequest struct {
	Payload io.Reader
	Router  *gin.Engine
	Method  string
	Route   string
	Header  map[string]string
}

func SetUpTestRequest(s TestRequest) *httptest.ResponseRecorder {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAuthKey)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)
	return resp
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource, *sunogate.MockUpstream) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
		DataSource: config.DataSourceConfig{Dns: "postgres://postgres:@localhost:5432/sunogate?sslmode=disable"},
		Server:     config.ServerConfig{AuthKey: testAuthKey},
		Generation: config.GenerationConfig{PollIntervalSeconds: 1},
	})
	cnf, err := config.Fetch()
	require.NoError(t, err)

	ds := new(mocks.MockDataSource)
	upstream := new(sunogate.MockUpstream)
	svc := sunogate.NewWithDeps(ds, upstream, sunogate.NewMemoryCache(), cnf)

	router := NewAPI(svc).Router()
	return router, ds, upstream
}

func claimedCredential(secret string) *model.Credential {
	now := time.Now()
	return &model.Credential{
		Secret:        secret,
		RemainingUses: 4,
		Status:        model.StatusClaimed,
		ClaimedAt:     &now,
		LastTouched:   now,
		AddedAt:       now,
	}
}

func scriptCompletedGeneration(ds *mocks.MockDataSource, upstream *sunogate.MockUpstream) {
	ds.On("ClaimCredential", mock.Anything).Return(claimedCredential("__client=a"), nil)
	ds.On("ReleaseCredential", mock.Anything, "__client=a").Return(nil)
	upstream.On("Authenticate", mock.Anything, "__client=a").Return("jwt-a", nil)
	upstream.On("GetBalance", mock.Anything, "jwt-a").Return(4, nil)
	upstream.On("SubmitGeneration", mock.Anything, "jwt-a", mock.Anything).
		Return(&model.GenerationStart{ID: "gen-1", Clips: []model.Clip{{ID: "c1"}}}, nil)
	upstream.On("PollFeed", mock.Anything, "jwt-a", []string{"c1"}).
		Return(&model.FeedSnapshot{Clips: []model.Clip{
			{ID: "c1", Title: "Rainfall", Status: "complete",
				AudioURL: "https://cdn1.suno.ai/c1.mp3",
				Metadata: model.ClipMetadata{Tags: "lofi"}},
		}}, nil)
}

func TestChatCompletions_NonStreaming(t *testing.T) {
	router, ds, upstream := setupRouter(t)
	scriptCompletedGeneration(ds, upstream)

	payload, err := request.ToJsonReq(map[string]interface{}{
		"model":    model.ModelSunoV35,
		"messages": []map[string]string{{"role": "user", "content": "a song about rain"}},
	})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/v1/chat/completions",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var body model.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "chat.completion", body.Object)
	require.Len(t, body.Choices, 1)
	assert.Equal(t, "assistant", body.Choices[0].Message.Role)
	assert.Contains(t, body.Choices[0].Message.Content, "## Rainfall")
	assert.Contains(t, body.Choices[0].Message.Content, "cdn1.suno.ai/c1.mp3")
	assert.Greater(t, body.Usage.TotalTokens, 0)
}

func TestChatCompletions_Streaming(t *testing.T) {
	router, ds, upstream := setupRouter(t)
	scriptCompletedGeneration(ds, upstream)

	payload, err := request.ToJsonReq(map[string]interface{}{
		"model":    model.ModelSunoV35,
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "a song about rain"}},
	})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/v1/chat/completions",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/event-stream")

	body := resp.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "))
	assert.Contains(t, body, `"chat.completion.chunk"`)
	assert.Contains(t, body, "Rainfall")
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestChatCompletions_ContinuationReachesUpstream(t *testing.T) {
	router, ds, upstream := setupRouter(t)
	scriptCompletedGeneration(ds, upstream)

	payload, err := request.ToJsonReq(map[string]interface{}{
		"model":            model.ModelSunoV35,
		"messages":         []map[string]string{{"role": "user", "content": "[Verse]\nrain keeps falling"}},
		"title":            "Rainfall",
		"tags":             "lofi chill",
		"continue_at":      109,
		"continue_clip_id": "clip-7",
	})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/v1/chat/completions",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	// the continuation fields ride the generate payload as lyrics plus
	// the source clip reference
	upstream.AssertCalled(t, "SubmitGeneration", mock.Anything, "jwt-a",
		mock.MatchedBy(func(req model.GenerationRequest) bool {
			return req.Title == "Rainfall" &&
				req.Tags == "lofi chill" &&
				req.ContinueClipID == "clip-7" &&
				req.ContinueAt != nil && *req.ContinueAt == 109 &&
				req.Prompt == "[Verse]\nrain keeps falling" &&
				req.GPTDescriptionPrompt == ""
		}))
}

func TestChatCompletions_UnknownModel(t *testing.T) {
	router, _, _ := setupRouter(t)

	payload, err := request.ToJsonReq(map[string]interface{}{
		"model":    "gpt-4",
		"messages": []map[string]string{{"role": "user", "content": "a song"}},
	})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/v1/chat/completions",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	router, _, _ := setupRouter(t)

	payload, err := request.ToJsonReq(map[string]interface{}{"model": model.ModelSunoV3})
	require.NoError(t, err)

	resp := SetUpTestRequest(TestRequest{
		Payload: payload,
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/v1/chat/completions",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestChatCompletions_Unauthorized(t *testing.T) {
	router, _, _ := setupRouter(t)

	resp := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBufferString(`{}`),
		Router:  router,
		Method:  http.MethodPost,
		Route:   "/v1/chat/completions",
		Header:  map[string]string{"Authorization": "Bearer wrong-key"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
