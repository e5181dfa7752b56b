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

import "fmt"

const (
	// ModerationSentinelURL is the audio url the upstream substitutes when
	// a generation is rejected by content moderation.
	ModerationSentinelURL = "https://cdn1.suno.ai/None.mp3"

	cdnBase       = "https://cdn1.suno.ai"
	audiopipeBase = "https://audiopipe.suno.ai"

	// ClipStatusComplete marks a finished clip in the upstream feed.
	ClipStatusComplete = "complete"
	// ClipStatusError marks a failed clip in the upstream feed.
	ClipStatusError = "error"
)

// CDNAudioURL returns the permanent mp3 link for a clip id.
func CDNAudioURL(clipID string) string {
	return fmt.Sprintf("%s/%s.mp3", cdnBase, clipID)
}

// CDNVideoURL returns the permanent mp4 link for a clip id.
func CDNVideoURL(clipID string) string {
	return fmt.Sprintf("%s/%s.mp4", cdnBase, clipID)
}

// RealtimeAudioURL returns the streaming link usable while a clip is
// still rendering.
func RealtimeAudioURL(clipID string) string {
	return fmt.Sprintf("%s/?item_id=%s", audiopipeBase, clipID)
}

// ClipMetadata is the nested metadata block of an upstream clip.
type ClipMetadata struct {
	Tags                 string `json:"tags"`
	Prompt               string `json:"prompt"`
	GPTDescriptionPrompt string `json:"gpt_description_prompt"`
	Duration             float64 `json:"duration"`
	ErrorType            string  `json:"error_type"`
	ErrorMessage         string  `json:"error_message"`
}

// Clip is one entry of the upstream feed for a generation.
type Clip struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Status   string       `json:"status"`
	AudioURL string       `json:"audio_url"`
	VideoURL string       `json:"video_url"`
	ImageURL string       `json:"image_url"`
	Metadata ClipMetadata `json:"metadata"`
}

// Moderated reports whether the clip was replaced by the moderation
// sentinel.
func (c *Clip) Moderated() bool {
	return c.AudioURL == ModerationSentinelURL
}

// Complete reports whether the upstream finished rendering this clip.
func (c *Clip) Complete() bool {
	return c.Status == ClipStatusComplete
}

// FeedSnapshot is one poll of the upstream feed endpoint.
type FeedSnapshot struct {
	Clips []Clip
}

// First returns the leading clip or nil when the feed is still empty.
func (s *FeedSnapshot) First() *Clip {
	if len(s.Clips) == 0 {
		return nil
	}
	return &s.Clips[0]
}

// AllComplete reports whether every clip in the snapshot has finished.
func (s *FeedSnapshot) AllComplete() bool {
	if len(s.Clips) == 0 {
		return false
	}
	for i := range s.Clips {
		if !s.Clips[i].Complete() {
			return false
		}
	}
	return true
}

// GenerationStart is the upstream response to a generate call.
type GenerationStart struct {
	ID    string `json:"id"`
	Clips []Clip `json:"clips"`
}

// ClipIDs returns the ids of the clips spawned by a generate call.
func (g *GenerationStart) ClipIDs() []string {
	ids := make([]string, 0, len(g.Clips))
	for i := range g.Clips {
		ids = append(ids, g.Clips[i].ID)
	}
	return ids
}
