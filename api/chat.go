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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sunogate/sunogate"
	apimodel "github.com/sunogate/sunogate/api/model"
	"github.com/sunogate/sunogate/internal/apierror"
	"github.com/sunogate/sunogate/model"
)

// ChatCompletions serves POST /v1/chat/completions. The last message of
// the conversation becomes the song prompt; the response either streams
// SSE chunks or returns one completion body, per the stream flag.
func (a Api) ChatCompletions(c *gin.Context) {
	var req apimodel.ChatCompletion
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateChatCompletion(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := model.NewGenerationJob(req.LastUserPrompt(), req.Model)
	job.Title = req.Title
	job.Tags = req.Tags
	job.ContinueAt = req.ContinueAt
	job.ContinueClipID = req.ContinueClipID
	if req.Stream {
		a.streamCompletion(c, job)
		return
	}
	a.blockingCompletion(c, job)
}

func (a Api) streamCompletion(c *gin.Context, job *model.GenerationJob) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeChunk(c, model.ChatCompletionChunk{
		ID:      "chatcmpl-" + job.ChatID,
		Object:  "chat.completion.chunk",
		Model:   job.Model,
		Choices: []model.ChunkChoice{{Delta: model.ChunkDelta{Role: "assistant"}}},
	})

	for event := range a.sunogate.Generate(c.Request.Context(), job) {
		if event.Err != nil {
			// the stream is already open, so failures ride inside it
			writeChunk(c, model.NewChunk(job.ChatID, job.Model, errorContent(event.Err)))
			break
		}
		writeChunk(c, model.NewChunk(job.ChatID, job.Model, event.Content))
	}

	writeChunk(c, model.NewStopChunk(job.ChatID, job.Model))
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func (a Api) blockingCompletion(c *gin.Context, job *model.GenerationJob) {
	content, err := a.sunogate.CompleteGeneration(c.Request.Context(), job)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	usage := sunogate.BuildUsage(job.Prompt, content)
	c.JSON(http.StatusOK, model.NewCompletionResponse(job.ChatID, job.Model, content, usage))
}

func writeChunk(c *gin.Context, chunk model.ChatCompletionChunk) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		logrus.WithError(err).Error("failed to marshal stream chunk")
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	c.Writer.Flush()
}

func errorContent(err error) string {
	if apiErr, ok := err.(apierror.APIError); ok {
		return fmt.Sprintf("\n\n⚠️ %s\n", apiErr.Message)
	}
	return "\n\n⚠️ Generation failed, please try again.\n"
}
