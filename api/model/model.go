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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/sunogate/sunogate/model"
)

// ChatCompletion is the accepted chat-completions request body. Title,
// tags and the continue fields turn the request into a continuation of an
// earlier clip instead of a fresh generation.
type ChatCompletion struct {
	Model          string              `json:"model"`
	Messages       []model.ChatMessage `json:"messages"`
	Stream         bool                `json:"stream"`
	Title          string              `json:"title"`
	Tags           string              `json:"tags"`
	ContinueAt     *int                `json:"continue_at"`
	ContinueClipID string              `json:"continue_clip_id"`
}

func knownModelValidation(value interface{}) error {
	name, _ := value.(string)
	if _, ok := model.EngineForModel(name); !ok {
		return errors.New("unknown model, expected suno-v3 or suno-v3.5")
	}
	return nil
}

func (r *ChatCompletion) ValidateChatCompletion() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Model, validation.Required, validation.By(knownModelValidation)),
		validation.Field(&r.Messages, validation.Required, validation.Length(1, 0)),
		validation.Field(&r.ContinueAt, validation.Min(0)),
		// an offset without a source clip is meaningless
		validation.Field(&r.ContinueClipID, validation.Required.When(r.ContinueAt != nil)),
	)
}

// LastUserPrompt returns the content of the final message.
func (r *ChatCompletion) LastUserPrompt() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// AddCookies is the admin request to admit session cookies to the pool.
type AddCookies struct {
	Cookies []string `json:"cookies"`
}

func (r *AddCookies) ValidateAddCookies() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Cookies, validation.Required, validation.Length(1, 0),
			validation.Each(validation.Required)),
	)
}

// UpdateCookie is the admin request to change one credential's balance.
// A delta adjusts the stored balance by a signed amount; without one the
// balance is overwritten with remaining_uses.
type UpdateCookie struct {
	Cookie        string `json:"cookie"`
	RemainingUses int    `json:"remaining_uses"`
	Delta         *int   `json:"delta"`
}

func (r *UpdateCookie) ValidateUpdateCookie() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Cookie, validation.Required),
		validation.Field(&r.RemainingUses, validation.Min(0)),
	)
}

// DeleteCookie is the admin request to remove one credential.
type DeleteCookie struct {
	Cookie string `json:"cookie"`
}

func (r *DeleteCookie) ValidateDeleteCookie() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Cookie, validation.Required),
	)
}
