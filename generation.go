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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sunogate/sunogate/internal/apierror"
	"github.com/sunogate/sunogate/model"
	"github.com/sunogate/sunogate/suno"
)

const (
	heartbeatGlyph = "🎵"
	// every heartbeatLineEvery-th heartbeat becomes a newline so clients
	// rendering markdown wrap the waiting line
	heartbeatLineEvery = 34
)

// StreamEvent is one increment of a running generation. Heartbeat events
// keep a streaming connection alive while the upstream renders; collectors
// building a non-streamed response skip them.
type StreamEvent struct {
	Content   string
	Heartbeat bool
	Err       error
}

// Generate runs a generation job and streams its progress. The returned
// channel closes when the job reaches a terminal state. Song fields are
// revealed in a fixed order as the upstream feed fills them in: title,
// tags, lyrics, artwork, a realtime listen link, and finally the permanent
// CDN links.
func (s *Sunogate) Generate(ctx context.Context, job *model.GenerationJob) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		s.runGeneration(ctx, job, events)
	}()
	return events
}

// CompleteGeneration runs a generation job to completion and returns the
// accumulated content, for clients that did not ask for streaming.
func (s *Sunogate) CompleteGeneration(ctx context.Context, job *model.GenerationJob) (string, error) {
	var b strings.Builder
	for event := range s.Generate(ctx, job) {
		if event.Err != nil {
			return "", event.Err
		}
		if event.Heartbeat {
			continue
		}
		b.WriteString(event.Content)
	}
	return b.String(), nil
}

func (s *Sunogate) runGeneration(ctx context.Context, job *model.GenerationJob, events chan<- StreamEvent) {
	engine, ok := model.EngineForModel(job.Model)
	if !ok {
		events <- StreamEvent{Err: apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown model", job.Model)}
		return
	}

	var lastErr error
	for attempt := 0; attempt < s.conf.Generation.Retries; attempt++ {
		retry, err := s.attemptGeneration(ctx, job, engine, events)
		if err == nil {
			return
		}
		lastErr = err
		if !retry {
			events <- StreamEvent{Err: err}
			return
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"chat_id": job.ChatID,
			"attempt": attempt + 1,
		}).Warn("generation attempt failed, retrying with a fresh credential")
	}
	events <- StreamEvent{Err: apierror.NewAPIError(apierror.ErrUpstreamFailure, "Generation failed after retries", lastErr)}
}

// attemptGeneration drives one submission on one claimed credential. The
// retry return value tells the caller whether a fresh credential is worth
// trying.
func (s *Sunogate) attemptGeneration(ctx context.Context, job *model.GenerationJob, engine string, events chan<- StreamEvent) (retry bool, err error) {
	cred, token, err := s.ClaimCredential(ctx)
	if err != nil {
		return false, err
	}

	start, err := s.upstream.SubmitGeneration(ctx, token, job.UpstreamRequest(engine))
	if err != nil {
		if errors.Is(err, suno.ErrInsufficientCredits) {
			// the stored balance lied; drain the row so the allocator
			// stops handing this credential out
			if drainErr := s.datasource.SetRemainingUses(ctx, cred.Secret, 0); drainErr != nil {
				logrus.WithError(drainErr).Error("failed to drain credential without credits")
			}
			s.releaseQuietly(ctx, cred.Secret)
			return true, err
		}
		if errors.Is(err, suno.ErrUnauthorized) || errors.Is(err, suno.ErrSessionInvalid) {
			s.invalidateToken(ctx, cred.Secret)
			if evictErr := s.EvictCredential(ctx, cred.Secret); evictErr != nil {
				logrus.WithError(evictErr).Error("failed to evict rejected credential")
			}
			return true, err
		}
		s.releaseQuietly(ctx, cred.Secret)
		return true, err
	}

	clipIDs := start.ClipIDs()
	events <- StreamEvent{Content: fmt.Sprintf("🎧 Generation started, clips queued: `%s`.\n\n", strings.Join(clipIDs, "`, `"))}

	retry, err = s.pollUntilDone(ctx, job, cred.Secret, token, clipIDs, events)
	return retry, err
}

func (s *Sunogate) pollUntilDone(ctx context.Context, job *model.GenerationJob, secret, token string, clipIDs []string, events chan<- StreamEvent) (bool, error) {
	deadline := time.Now().Add(s.maxPollTime)
	reveal := revealState{}
	heartbeats := 0
	reauthed := false

	for {
		select {
		case <-ctx.Done():
			s.releaseQuietly(ctx, secret)
			return false, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		if time.Now().After(deadline) {
			// the feed never settled inside the window; the CDN names
			// rendered clips after their ids, so hand out guessed links
			logrus.WithField("chat_id", job.ChatID).Warn("generation window elapsed, emitting guessed links")
			events <- StreamEvent{Content: timeoutContent(clipIDs)}
			s.releaseQuietly(ctx, secret)
			return false, nil
		}

		snapshot, err := s.upstream.PollFeed(ctx, token, clipIDs)
		if err != nil {
			if errors.Is(err, suno.ErrUnauthorized) && !reauthed {
				reauthed = true
				s.invalidateToken(ctx, secret)
				token, err = s.sessionToken(ctx, secret)
				if err == nil {
					continue
				}
				if evictErr := s.EvictCredential(ctx, secret); evictErr != nil {
					logrus.WithError(evictErr).Error("failed to evict credential after reauth failure")
				}
				return true, err
			}
			s.releaseQuietly(ctx, secret)
			return true, err
		}

		clip := snapshot.First()
		if clip == nil {
			heartbeats++
			events <- StreamEvent{Content: heartbeat(heartbeats), Heartbeat: true}
			continue
		}

		if clip.Moderated() {
			s.releaseQuietly(ctx, secret)
			return false, apierror.NewAPIError(apierror.ErrModerationRejected, "The prompt was rejected by content moderation", job.Prompt)
		}

		// one field reveal per poll cycle; final links wait until the
		// reveal sequence has drained
		if content, ok := reveal.advance(clip); ok {
			events <- StreamEvent{Content: content}
			continue
		}

		if snapshot.AllComplete() {
			events <- StreamEvent{Content: finalContent(snapshot.Clips)}
			s.releaseQuietly(ctx, secret)
			return false, nil
		}

		heartbeats++
		events <- StreamEvent{Content: heartbeat(heartbeats), Heartbeat: true}
	}
}

func (s *Sunogate) releaseQuietly(ctx context.Context, secret string) {
	if err := s.ReleaseCredential(ctx, secret); err != nil {
		logrus.WithError(err).Error("failed to release credential")
	}
}

func heartbeat(count int) string {
	if count%heartbeatLineEvery == 0 {
		return "\n"
	}
	return heartbeatGlyph
}

// revealState tracks which song fields have already been streamed. Fields
// unlock strictly in order, at most one per poll cycle; a feed that
// reports artwork before the title holds the artwork back until the title
// has gone out.
type revealState struct {
	title    bool
	tags     bool
	lyrics   bool
	artwork  bool
	realtime bool
}

func (r *revealState) advance(clip *model.Clip) (string, bool) {
	switch {
	case !r.title && clip.Title != "":
		r.title = true
		return fmt.Sprintf("## %s\n\n", clip.Title), true
	case r.title && !r.tags && clip.Metadata.Tags != "":
		r.tags = true
		return fmt.Sprintf("**Style**: %s\n\n", clip.Metadata.Tags), true
	case r.tags && !r.lyrics && clip.Metadata.Prompt != "":
		r.lyrics = true
		return fmt.Sprintf("```\n%s\n```\n\n", strings.TrimSpace(clip.Metadata.Prompt)), true
	case r.lyrics && !r.artwork && clip.ImageURL != "":
		r.artwork = true
		return fmt.Sprintf("![cover](%s)\n\n", clip.ImageURL), true
	case r.artwork && !r.realtime && clip.AudioURL != "":
		r.realtime = true
		return fmt.Sprintf("🎧 [Listen while it renders](%s)\n\n", model.RealtimeAudioURL(clip.ID)), true
	}
	return "", false
}

func finalContent(clips []model.Clip) string {
	var b strings.Builder
	b.WriteString("\n\n✅ All done.\n")
	for i := range clips {
		fmt.Fprintf(&b, "- [Audio %d](%s) · [Video %d](%s)\n",
			i+1, model.CDNAudioURL(clips[i].ID), i+1, model.CDNVideoURL(clips[i].ID))
	}
	return b.String()
}

func timeoutContent(clipIDs []string) string {
	var b strings.Builder
	b.WriteString("\n\n⏳ Rendering is taking longer than usual. The links below go live once it finishes.\n")
	for i, id := range clipIDs {
		fmt.Fprintf(&b, "- [Audio %d](%s) · [Video %d](%s)\n",
			i+1, model.CDNAudioURL(id), i+1, model.CDNVideoURL(id))
	}
	return b.String()
}
