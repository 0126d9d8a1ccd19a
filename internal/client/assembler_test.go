package client

import (
	"reflect"
	"testing"

	"github.com/procurelabs/spachat/internal/domain"
)

func TestAppendChunkOpensSingleDraft(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AppendChunk("The ")
	a.AppendChunk("answer ")
	a.AppendChunk("is 42")

	msgs := a.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	last := msgs[0]
	if !last.InProgress {
		t.Error("expected draft message to be in progress")
	}
	if last.Sender != domain.SenderAgent {
		t.Errorf("Sender = %q, want agent", last.Sender)
	}
	if last.Text != "The answer is 42" {
		t.Errorf("Text = %q", last.Text)
	}
}

func TestAtMostOneMessageInProgress(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.Append(domain.Message{Sender: domain.SenderUser, Text: "hi"})
	a.AppendChunk("partial")

	inProgress := 0
	for _, m := range a.Messages() {
		if m.InProgress {
			inProgress++
		}
	}
	if inProgress != 1 {
		t.Fatalf("expected exactly 1 in-progress message, got %d", inProgress)
	}

	a.Finalize("partial plus the rest")
	for _, m := range a.Messages() {
		if m.InProgress {
			t.Fatalf("message still in progress after finalize: %+v", m)
		}
	}
}

func TestFinalizePrefersAuthoritativeText(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AppendChunk("The answ")
	a.AppendChunk("er is 4")

	msg := a.Finalize("The answer is 42")
	if msg.Text != "The answer is 42" {
		t.Errorf("Text = %q, want authoritative completion text", msg.Text)
	}
	if msg.Visualization != nil {
		t.Errorf("unexpected visualization: %+v", msg.Visualization)
	}
	if a.InProgress() {
		t.Error("draft should be consumed by finalize")
	}
}

func TestFinalizeWithoutDraftAppendsNewMessage(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	msg := a.Finalize("complete with no prior chunks")

	msgs := a.Messages()
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("expected the finalized message to be appended, got %+v", msgs)
	}
	if msgs[0].InProgress {
		t.Error("finalized message marked in progress")
	}
}

func TestProgressiveImageReveal(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AppendChunk("chart: [IMAGE]https://x/")
	if got := a.Messages()[0].Images; got != nil {
		t.Errorf("image revealed before tag closed: %v", got)
	}

	a.AppendChunk("a.png[/IMAGE] done")
	got := a.Messages()[0].Images
	if !reflect.DeepEqual(got, []string{"https://x/a.png"}) {
		t.Errorf("Images = %v, want the revealed url", got)
	}

	// The same tag in a later chunk must not duplicate the reference.
	a.AppendChunk(" and again [IMAGE]https://x/a.png[/IMAGE]")
	got = a.Messages()[0].Images
	if !reflect.DeepEqual(got, []string{"https://x/a.png"}) {
		t.Errorf("Images = %v, want single entry", got)
	}
}

func TestImagesDedupedAcrossChunkAndCompletion(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AppendChunk("see [IMAGE]https://x/a.png[/IMAGE]")
	msg := a.Finalize("see [IMAGE]https://x/a.png[/IMAGE] and [IMAGE]https://x/b.png[/IMAGE]")

	want := []string{"https://x/a.png", "https://x/b.png"}
	if !reflect.DeepEqual(msg.Images, want) {
		t.Errorf("Images = %v, want %v", msg.Images, want)
	}
}

func TestFinalizeDraftUsesAccumulatedText(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AppendChunk("partial answer")
	a.FinalizeDraft()

	msgs := a.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].InProgress {
		t.Error("draft still in progress after FinalizeDraft")
	}
	if msgs[0].Text != "partial answer" {
		t.Errorf("Text = %q", msgs[0].Text)
	}

	// Without a draft it is a no-op.
	a.FinalizeDraft()
	if got := len(a.Messages()); got != 1 {
		t.Errorf("FinalizeDraft without draft appended a message: %d", got)
	}
}

func TestMessagesReturnsSnapshot(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AppendChunk("abc")
	snap := a.Messages()
	a.AppendChunk("def")

	if snap[0].Text != "abc" {
		t.Errorf("snapshot mutated by later append: %q", snap[0].Text)
	}
}
