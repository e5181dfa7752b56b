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
	"net/http"

	"github.com/gin-gonic/gin"

	apimodel "github.com/sunogate/sunogate/api/model"
	"github.com/sunogate/sunogate/internal/apierror"
)

// ListCookies serves GET /cookies.
func (a Api) ListCookies(c *gin.Context) {
	creds, err := a.sunogate.GetAllCredentials(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cookies": creds, "count": len(creds)})
}

// AddCookies serves POST /cookies. Each cookie is verified against the
// upstream before it is admitted.
func (a Api) AddCookies(c *gin.Context) {
	var req apimodel.AddCookies
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateAddCookies(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := a.sunogate.AddCookies(c.Request.Context(), req.Cookies)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": added, "rejected": len(req.Cookies) - added})
}

// UpdateCookie serves PUT /cookies.
func (a Api) UpdateCookie(c *gin.Context) {
	var req apimodel.UpdateCookie
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateUpdateCookie(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Delta != nil {
		if err := a.sunogate.AdjustCredential(c.Request.Context(), req.Cookie, *req.Delta); err != nil {
			c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": req.Cookie})
		return
	}
	if err := a.sunogate.UpdateCredential(c.Request.Context(), req.Cookie, req.RemainingUses); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": req.Cookie})
}

// DeleteCookie serves DELETE /cookies.
func (a Api) DeleteCookie(c *gin.Context) {
	var req apimodel.DeleteCookie
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateDeleteCookie(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.sunogate.EvictCredential(c.Request.Context(), req.Cookie); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": req.Cookie})
}

// RefreshCookies serves GET /refresh/cookies, re-checking every pooled
// credential against the upstream.
func (a Api) RefreshCookies(c *gin.Context) {
	summary, err := a.sunogate.RefreshAll(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// EvictInvalidCookies serves DELETE /refresh/cookies, removing every
// credential with no balance left.
func (a Api) EvictInvalidCookies(c *gin.Context) {
	removed, err := a.sunogate.EvictInvalid(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// PoolStats serves GET /stats.
func (a Api) PoolStats(c *gin.Context) {
	stats, err := a.sunogate.PoolStats(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
