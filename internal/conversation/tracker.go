package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/internal/lifecycle"
	"github.com/facilitydesk/repair-bot/internal/models"
	"github.com/facilitydesk/repair-bot/internal/notify"
	"github.com/facilitydesk/repair-bot/pkg/logger"
)

// Button labels the tracker reacts to.
const (
	LabelStart       = "📝 Submit request"
	LabelBack        = "🔙 Back"
	LabelAttachPhoto = "📷 Attach photo"
	LabelSkipPhoto   = "📋 No photo"
)

// Prompt tells the transport what to show after an input was handled.
type Prompt int

const (
	PromptNone               Prompt = iota // input is not part of the dialogue
	PromptCategory                         // ask for the category
	PromptInvalidCategory                  // unknown category, ask again
	PromptRoom                             // ask for the room
	PromptDescription                      // ask for the description
	PromptEmptyText                        // blank answer, ask the same question again
	PromptPhotoChoice                      // ask whether to attach a photo
	PromptInvalidPhotoChoice               // use the buttons
	PromptPhoto                            // ask for the photo
	PromptAwaitingPhoto                    // text sent while a photo is expected
	PromptUnexpectedPhoto                  // photo sent at a text stage
	PromptNoActiveDraft                    // photo sent outside the dialogue
	PromptCancelled                        // draft discarded
	PromptCreated                          // request persisted
	PromptCreateFailed                     // request could not be persisted
)

// Input is one user message. PhotoRef is set for photo messages.
type Input struct {
	Text     string
	PhotoRef string
}

// Reply is the result of handling one input.
type Reply struct {
	Prompt   Prompt
	Stage    Stage           // stage after handling
	Request  *models.Request // set with PromptCreated
	Notified notify.Result
}

// Creator persists a finished draft.
type Creator interface {
	Create(ctx context.Context, reporterID int64, d models.Draft) (*lifecycle.Created, error)
}

type Tracker struct {
	creator Creator
	logger  *logger.Logger
}

func NewTracker(creator Creator, log *logger.Logger) *Tracker {
	return &Tracker{creator: creator, logger: log}
}

// Handle advances the session by one input. The caller must hold the
// session lock. An error is returned only when the finished draft could
// not be persisted; the session is back to idle in that case too.
func (t *Tracker) Handle(ctx context.Context, s *Session, reporterID int64, in Input) (Reply, error) {
	text := strings.TrimSpace(in.Text)
	photo := in.PhotoRef != ""

	if !photo {
		switch text {
		case LabelStart:
			s.Reset()
			s.Stage = StageCategory
			return reply(s, PromptCategory), nil
		case LabelBack:
			s.Reset()
			return reply(s, PromptCancelled), nil
		}
	}

	if !s.Active() {
		if photo {
			return reply(s, PromptNoActiveDraft), nil
		}
		return reply(s, PromptNone), nil
	}

	switch s.Stage {
	case StageCategory:
		if photo {
			return reply(s, PromptUnexpectedPhoto), nil
		}
		c, ok := models.CategoryFromLabel(text)
		if !ok {
			return reply(s, PromptInvalidCategory), nil
		}
		s.Draft.Category = c
		s.Stage = StageRoom
		return reply(s, PromptRoom), nil

	case StageRoom:
		if photo {
			return reply(s, PromptUnexpectedPhoto), nil
		}
		if text == "" {
			return reply(s, PromptEmptyText), nil
		}
		s.Draft.Location = text
		s.Stage = StageDescription
		return reply(s, PromptDescription), nil

	case StageDescription:
		if photo {
			return reply(s, PromptUnexpectedPhoto), nil
		}
		if text == "" {
			return reply(s, PromptEmptyText), nil
		}
		s.Draft.Description = text
		s.Stage = StagePhotoChoice
		return reply(s, PromptPhotoChoice), nil

	case StagePhotoChoice:
		if photo {
			return reply(s, PromptUnexpectedPhoto), nil
		}
		switch text {
		case LabelAttachPhoto:
			s.Stage = StagePhoto
			return reply(s, PromptPhoto), nil
		case LabelSkipPhoto:
			return t.finalize(ctx, s, reporterID)
		}
		return reply(s, PromptInvalidPhotoChoice), nil

	case StagePhoto:
		if !photo {
			return reply(s, PromptAwaitingPhoto), nil
		}
		s.Draft.PhotoRef = in.PhotoRef
		return t.finalize(ctx, s, reporterID)
	}

	// Unknown stage, start over.
	s.Reset()
	return reply(s, PromptNone), nil
}

func (t *Tracker) finalize(ctx context.Context, s *Session, reporterID int64) (Reply, error) {
	s.Stage = StageFinalizing
	draft := s.Draft
	defer s.Reset()

	created, err := t.creator.Create(ctx, reporterID, draft)
	if err != nil {
		t.logger.Error("failed to create request",
			zap.Int64("chat_id", s.ChatID),
			zap.String("category", string(draft.Category)),
			zap.Error(err),
		)
		return Reply{Prompt: PromptCreateFailed, Stage: StageIdle}, err
	}

	return Reply{
		Prompt:   PromptCreated,
		Stage:    StageIdle,
		Request:  created.Request,
		Notified: created.Notified,
	}, nil
}

func reply(s *Session, p Prompt) Reply {
	return Reply{Prompt: p, Stage: s.Stage}
}
