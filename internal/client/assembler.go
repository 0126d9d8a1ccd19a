package client

import (
	"time"

	"github.com/google/uuid"
	"github.com/procurelabs/spachat/internal/domain"
	"github.com/procurelabs/spachat/internal/extract"
)

// assembler holds the conversation as an ordered sequence of immutable
// message snapshots plus at most one draft: the reply currently being
// accumulated from chunks. The draft is swapped into the sequence only at
// finalize, so exactly one message can ever be in progress and it is always
// the newest one.
type assembler struct {
	messages []domain.Message
	draft    *draft
}

type draft struct {
	id        string
	text      string
	images    []string
	seen      map[string]bool
	startedAt time.Time
}

func newAssembler() *assembler {
	return &assembler{}
}

// AppendChunk concatenates a streamed fragment onto the draft, opening a new
// draft if none is in progress. The cumulative text is rescanned for
// web-scheme [IMAGE] tags so images reveal progressively before the full
// reply has arrived.
func (a *assembler) AppendChunk(fragment string) {
	if a.draft == nil {
		a.draft = &draft{
			id:        uuid.NewString(),
			seen:      make(map[string]bool),
			startedAt: time.Now(),
		}
	}
	a.draft.text += fragment

	for _, url := range extract.StreamImages(a.draft.text) {
		if !a.draft.seen[url] {
			a.draft.seen[url] = true
			a.draft.images = append(a.draft.images, url)
		}
	}
}

// Finalize turns the draft into an immutable agent message built from the
// authoritative full response text, which supersedes the locally
// accumulated chunks. With no draft in progress (a completion that arrived
// without chunks) a new finalized message is appended instead.
func (a *assembler) Finalize(full string) domain.Message {
	res := extract.Decode(full)

	msg := domain.Message{
		Sender:        domain.SenderAgent,
		Text:          res.CleanText,
		Visualization: res.Visualization,
		CreatedAt:     time.Now(),
	}

	if a.draft != nil {
		msg.ID = a.draft.id
		msg.CreatedAt = a.draft.startedAt
		msg.Images = mergeImages(a.draft.images, res.Images)
		a.draft = nil
	} else {
		msg.ID = uuid.NewString()
		msg.Images = res.Images
	}

	a.messages = append(a.messages, msg)
	return msg
}

// FinalizeDraft closes out an abandoned draft from its accumulated text,
// through the same decode pipeline as a normal completion. Used when the
// connection drops mid-turn. No-op without a draft.
func (a *assembler) FinalizeDraft() {
	if a.draft == nil {
		return
	}
	a.Finalize(a.draft.text)
}

// Append adds an already-final message (user input, system errors, legacy
// one-shot replies) without touching the draft.
func (a *assembler) Append(msg domain.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	a.messages = append(a.messages, msg)
}

// InProgress reports whether a draft reply is being accumulated.
func (a *assembler) InProgress() bool {
	return a.draft != nil
}

// Messages returns a snapshot of the conversation. The draft, if any,
// appears as the final entry with InProgress set.
func (a *assembler) Messages() []domain.Message {
	out := make([]domain.Message, len(a.messages), len(a.messages)+1)
	copy(out, a.messages)
	if a.draft != nil {
		out = append(out, domain.Message{
			ID:         a.draft.id,
			Sender:     domain.SenderAgent,
			Text:       a.draft.text,
			CreatedAt:  a.draft.startedAt,
			InProgress: true,
			Images:     append([]string(nil), a.draft.images...),
		})
	}
	return out
}

// mergeImages unions two ordered reference lists, preserving first-seen
// order and dropping duplicates.
func mergeImages(streamed, final []string) []string {
	if len(streamed) == 0 {
		return final
	}
	seen := make(map[string]bool, len(streamed)+len(final))
	out := make([]string, 0, len(streamed)+len(final))
	for _, lists := range [][]string{streamed, final} {
		for _, url := range lists {
			if !seen[url] {
				seen[url] = true
				out = append(out, url)
			}
		}
	}
	return out
}
