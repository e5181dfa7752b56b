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

package apierror_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sunogate/sunogate/internal/apierror"
)

func TestNewAPIError(t *testing.T) {
	details := "no credential rows matched"
	apiErr := apierror.NewAPIError(apierror.ErrPoolExhausted, "no usable credentials", details)

	assert.Equal(t, apierror.ErrPoolExhausted, apiErr.Code)
	assert.Equal(t, "no usable credentials", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "POOL_EXHAUSTED: no usable credentials", apiErr.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "NotFound Error",
			err:      apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil),
			expected: http.StatusNotFound,
		},
		{
			name:     "Conflict Error",
			err:      apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "InvalidInput Error",
			err:      apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "PoolExhausted Error",
			err:      apierror.NewAPIError(apierror.ErrPoolExhausted, "No credentials left", nil),
			expected: http.StatusTooManyRequests,
		},
		{
			name:     "UpstreamFailure Error",
			err:      apierror.NewAPIError(apierror.ErrUpstreamFailure, "Generation submit failed", nil),
			expected: http.StatusBadGateway,
		},
		{
			name:     "ModerationRejected Error",
			err:      apierror.NewAPIError(apierror.ErrModerationRejected, "Prompt rejected", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "StoreUnavailable Error",
			err:      apierror.NewAPIError(apierror.ErrStoreUnavailable, "Database unreachable", nil),
			expected: http.StatusServiceUnavailable,
		},
		{
			name:     "GenerationTimedOut Error",
			err:      apierror.NewAPIError(apierror.ErrGenerationTimedOut, "Feed never completed", nil),
			expected: http.StatusGatewayTimeout,
		},
		{
			name:     "InternalServerError",
			err:      apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", nil),
			expected: http.StatusInternalServerError,
		},
		{
			name:     "Unknown Error",
			err:      errors.New("Unknown error"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusCode := apierror.MapErrorToHTTPStatus(tt.err)
			assert.Equal(t, tt.expected, statusCode)
		})
	}
}
