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

	"github.com/sunogate/sunogate"
	"github.com/sunogate/sunogate/api/middleware"
	"github.com/sunogate/sunogate/config"
)

type Api struct {
	sunogate *sunogate.Sunogate
	router   *gin.Engine
	prefix   string
}

func (a Api) Router() *gin.Engine {
	router := a.router
	guarded := router.Group(a.prefix, middleware.BearerAuthMiddleware())

	guarded.POST("/v1/chat/completions", a.ChatCompletions)

	guarded.GET("/cookies", a.ListCookies)
	guarded.POST("/cookies", a.AddCookies)
	guarded.PUT("/cookies", a.UpdateCookie)
	guarded.DELETE("/cookies", a.DeleteCookie)

	guarded.GET("/refresh/cookies", a.RefreshCookies)
	guarded.DELETE("/refresh/cookies", a.EvictInvalidCookies)

	guarded.GET("/stats", a.PoolStats)

	return a.router
}

func NewAPI(s *sunogate.Sunogate) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{sunogate: s, router: r, prefix: conf.Server.RoutePrefix}
}
