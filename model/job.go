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

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known public model names and their upstream engine identifiers.
const (
	ModelSunoV3  = "suno-v3"
	ModelSunoV35 = "suno-v3.5"

	engineChirpV3  = "chirp-v3-0"
	engineChirpV35 = "chirp-v3-5"
)

// EngineForModel maps a public model name to the upstream engine id.
// The second return value is false for unknown models.
func EngineForModel(model string) (string, bool) {
	switch model {
	case ModelSunoV3:
		return engineChirpV3, true
	case ModelSunoV35:
		return engineChirpV35, true
	}
	return "", false
}

// GenerationJob identifies one chat-completion request for its lifetime.
// It is never persisted; it dies with the response stream.
type GenerationJob struct {
	// ChatID correlates every emitted chunk of one response.
	ChatID string
	// Prompt is the last user message driving the generation.
	Prompt string
	// Model is the requested public model name.
	Model string
	// Title and Tags are only honored on continuation requests, matching
	// the upstream generate call shape.
	Title string
	Tags  string
	// ContinueAt / ContinueClipID extend a previous song from a timestamp.
	ContinueAt     *int
	ContinueClipID string
	CreatedAt      time.Time
}

// NewGenerationJob builds a job with a fresh chat id.
func NewGenerationJob(prompt, model string) *GenerationJob {
	return &GenerationJob{
		ChatID:    GenerateChatID(),
		Prompt:    prompt,
		Model:     model,
		CreatedAt: time.Now(),
	}
}

// GenerateChatID returns a chat-completion correlation id in the
// "chatcmpl-" style expected by OpenAI-compatible clients.
func GenerateChatID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:29]
}

// GenerationRequest is the upstream generate call payload.
type GenerationRequest struct {
	GPTDescriptionPrompt string `json:"gpt_description_prompt,omitempty"`
	Prompt               string `json:"prompt"`
	MV                   string `json:"mv"`
	Title                string `json:"title"`
	Tags                 string `json:"tags"`
	ContinueAt           *int   `json:"continue_at,omitempty"`
	ContinueClipID       string `json:"continue_clip_id,omitempty"`
}

// UpstreamRequest builds the generate payload for this job. A plain prompt
// goes into gpt_description_prompt; a continuation carries the prompt as
// explicit lyrics together with title/tags and the source clip reference.
func (j *GenerationJob) UpstreamRequest(engine string) GenerationRequest {
	if j.ContinueClipID != "" {
		return GenerationRequest{
			Prompt:         j.Prompt,
			MV:             engine,
			Title:          j.Title,
			Tags:           j.Tags,
			ContinueAt:     j.ContinueAt,
			ContinueClipID: j.ContinueClipID,
		}
	}
	return GenerationRequest{
		GPTDescriptionPrompt: j.Prompt,
		MV:                   engine,
	}
}
