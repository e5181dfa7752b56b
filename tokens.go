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

package sunogate

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"

	"github.com/sunogate/sunogate/model"
)

const tokenEncoding = "cl100k_base"

// CountTokens counts BPE tokens in text. Falls back to a rune count when
// the encoding cannot be loaded, so accounting degrades rather than fails.
func CountTokens(text string) int {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		logrus.WithError(err).Warn("token encoding unavailable, falling back to rune count")
		return len([]rune(text))
	}
	return len(enc.Encode(text, nil, nil))
}

// BuildUsage assembles the usage block of a non-streamed response.
func BuildUsage(prompt, completion string) model.Usage {
	promptTokens := CountTokens(prompt)
	completionTokens := CountTokens(completion)
	return model.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
