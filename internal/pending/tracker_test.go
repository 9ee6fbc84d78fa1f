package pending

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dguik/discode/internal/chat/chattest"
)

func TestKey(t *testing.T) {
	if got := Key("proj", "claude", "inst1"); got != "proj:inst1" {
		t.Errorf("Key = %q, want proj:inst1", got)
	}
	if got := Key("proj", "claude", ""); got != "proj:claude" {
		t.Errorf("Key with empty instance = %q, want proj:claude", got)
	}
}

func TestReactionLifecycle(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	tr.MarkCompleted(ctx, "p", "a", "")

	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2: %+v", len(calls), calls)
	}
	if calls[0].Method != "AddReactionToMessage" || calls[0].ChannelID != "c1" ||
		calls[0].MessageID != "m1" || calls[0].Text != ReactionPending {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].Method != "ReplaceOwnReactionOnMessage" || calls[1].ChannelID != "c1" ||
		calls[1].MessageID != "m1" {
		t.Errorf("second call = %+v", calls[1])
	}
	if calls[1].Extra[0] != ReactionPending || calls[1].Extra[1] != ReactionCompleted {
		t.Errorf("reaction swap = %v", calls[1].Extra)
	}
}

func TestCompletedEntryExpires(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	tr.SetCompletedTTL(50 * time.Millisecond)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	tr.MarkCompleted(ctx, "p", "a", "")

	if e, ok := tr.GetPending("p", "a", ""); !ok || e.MessageID != "m1" {
		t.Fatalf("GetPending right after completion = %+v ok=%v", e, ok)
	}
	if tr.HasPending("p", "a", "") {
		t.Error("HasPending true after completion")
	}

	time.Sleep(120 * time.Millisecond)
	if _, ok := tr.GetPending("p", "a", ""); ok {
		t.Error("GetPending still returns entry after TTL")
	}
}

func TestMarkErrorDeletesImmediately(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	tr.MarkError(ctx, "p", "a", "")

	if _, ok := tr.GetPending("p", "a", ""); ok {
		t.Error("entry survives MarkError")
	}
	swaps := fake.CallsTo("ReplaceOwnReactionOnMessage")
	if len(swaps) != 1 || swaps[0].Extra[1] != ReactionError {
		t.Errorf("error reaction calls = %+v", swaps)
	}
}

func TestMarkPendingEvictsCompleted(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	tr.MarkCompleted(ctx, "p", "a", "")
	tr.MarkPending(ctx, "p", "a", "c1", "m2", "")

	e, ok := tr.GetPending("p", "a", "")
	if !ok || e.MessageID != "m2" {
		t.Errorf("entry after re-pending = %+v ok=%v", e, ok)
	}
	if !e.CompletedAt.IsZero() {
		t.Error("fresh entry carries CompletedAt")
	}
}

func TestEnsurePending(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.EnsurePending("p", "a", "c1", "")
	if e, ok := tr.GetPending("p", "a", ""); !ok || e.MessageID != "" {
		t.Errorf("ensured entry = %+v ok=%v", e, ok)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("EnsurePending sent chat calls: %+v", fake.Calls())
	}

	// Does not replace an existing entry.
	tr.MarkPending(ctx, "p", "b", "c1", "m9", "")
	tr.EnsurePending("p", "b", "c1", "")
	if e, _ := tr.GetPending("p", "b", ""); e.MessageID != "m9" {
		t.Errorf("EnsurePending replaced active entry: %+v", e)
	}
}

func TestEnsureStartMessage(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	id := tr.EnsureStartMessage(ctx, "p", "a", "", "fix the build")
	if id == "" {
		t.Fatal("no start message id")
	}
	sends := fake.CallsTo("SendToChannelWithID")
	if len(sends) != 1 {
		t.Fatalf("sends = %+v", sends)
	}
	if want := "📝 Prompt: fix the build"; sends[0].Text != want {
		t.Errorf("start message = %q, want %q", sends[0].Text, want)
	}

	// Idempotent: same id, no second send.
	if again := tr.EnsureStartMessage(ctx, "p", "a", "", "fix the build"); again != id {
		t.Errorf("second call id = %q, want %q", again, id)
	}
	if got := len(fake.CallsTo("SendToChannelWithID")); got != 1 {
		t.Errorf("sends after repeat = %d, want 1", got)
	}
}

func TestEnsureStartMessageUsesStoredPreview(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	tr.SetPromptPreview("p", "a", "stored preview", "")
	if id := tr.EnsureStartMessage(ctx, "p", "a", "", ""); id == "" {
		t.Fatal("stored preview not used")
	}
	sends := fake.CallsTo("SendToChannelWithID")
	if !strings.Contains(sends[0].Text, "stored preview") {
		t.Errorf("start message = %q", sends[0].Text)
	}
}

func TestEnsureStartMessageSuppressedWithoutPreview(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.EnsurePending("p", "a", "c1", "")
	if id := tr.EnsureStartMessage(ctx, "p", "a", "", ""); id != "" {
		t.Errorf("start message sent without preview: %q", id)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("unexpected calls: %+v", fake.Calls())
	}
}

func TestEnsureStartMessageRequiresIDSender(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(chattest.Bare{F: fake}, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	if id := tr.EnsureStartMessage(ctx, "p", "a", "", "prompt"); id != "" {
		t.Errorf("start message sent without IDSender capability: %q", id)
	}
}

func TestHookActiveFlag(t *testing.T) {
	fake := chattest.NewFake()
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	if tr.IsHookActive("p", "a", "") {
		t.Error("hook active with no entry")
	}
	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	if tr.IsHookActive("p", "a", "") {
		t.Error("hook active before SetHookActive")
	}
	tr.SetHookActive("p", "a", "")
	if !tr.IsHookActive("p", "a", "") {
		t.Error("hook flag not set")
	}
}

func TestTransitionsSurviveChatFailures(t *testing.T) {
	fake := chattest.NewFake()
	fake.FailSends = true
	tr := NewTracker(fake, nil)
	ctx := context.Background()

	tr.MarkPending(ctx, "p", "a", "c1", "m1", "")
	if !tr.HasPending("p", "a", "") {
		t.Error("entry missing after failed reaction")
	}
	tr.MarkCompleted(ctx, "p", "a", "")
	if _, ok := tr.GetPending("p", "a", ""); !ok {
		t.Error("completion lost after failed reaction")
	}
}
