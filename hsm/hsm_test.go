package hsm_test

import (
	"context"
	"slices"
	"testing"

	"github.com/ifacehsm/ifacehsm/hsm"
)

type testCtx struct {
	hsm.HSM
	log []string
}

func (t *testCtx) note(s string) { t.log = append(t.log, s) }

func buildTestModel() hsm.Model {
	return hsm.Define(
		hsm.State("A",
			hsm.Tags("leafA"),
			hsm.Influences("ctrlA"),
			hsm.Reaction[*testCtx](func(ctx context.Context, sm *testCtx, ev hsm.Event) error {
				sm.note("reactA")
				return nil
			}),
			hsm.Transition(hsm.Trigger("go"), hsm.Target("/B")),
		),
		hsm.State("B",
			hsm.Entry[*testCtx](func(ctx context.Context, sm *testCtx, ev hsm.Event) {
				sm.note("enterB")
			}),
			hsm.Influences("ctrlB"),
			hsm.Reaction[*testCtx](func(ctx context.Context, sm *testCtx, ev hsm.Event) error {
				sm.note("reactB")
				return nil
			}),
			hsm.State("C",
				hsm.Tags("leafC"),
				hsm.Influences("ctrlC"),
				hsm.Reaction[*testCtx](func(ctx context.Context, sm *testCtx, ev hsm.Event) error {
					sm.note("reactC")
					return nil
				}),
			),
			hsm.Initial("C"),
		),
		hsm.Initial("A"),
	)
}

// TestInitialStringTarget guards against the plain-string Initial()
// overload failing to set a transition target: without it, Start would
// panic trying to enter a pseudostate with no target.
func TestInitialStringTarget(t *testing.T) {
	model := buildTestModel()
	ctx := context.Background()
	sm := hsm.Start(ctx, &testCtx{}, &model)
	if sm.State() != "/A" {
		t.Fatalf("expected initial state /A, got %s", sm.State())
	}
}

// TestNestedInitialDescendsToLeaf checks that a composite's hsm.Initial
// cascades all the way to the deepest leaf, here /B/C.
func TestNestedInitialDescendsToLeaf(t *testing.T) {
	ctx := context.Background()
	sm := hsm.Start(ctx, &testCtx{}, ptr(buildTestModel()))
	if err := sm.Dispatch(ctx, hsm.Event{Name: "go"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sm.State() != "/B/C" {
		t.Fatalf("expected /B/C, got %s", sm.State())
	}
}

// TestInfluencesWalksAncestorChain verifies that Influences() accumulates
// declarations from every ancestor on the path to the current leaf, not
// just the leaf itself.
func TestInfluencesWalksAncestorChain(t *testing.T) {
	ctx := context.Background()
	sm := hsm.Start(ctx, &testCtx{}, ptr(buildTestModel()))
	_ = sm.Dispatch(ctx, hsm.Event{Name: "go"})

	got := sm.Influences()
	want := []string{"ctrlB", "ctrlC"}
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Fatalf("Influences() = %v, want %v", got, want)
	}
}

// TestRunReactionsWalksAncestorChain verifies RunReactions invokes every
// ancestor's reaction, root-first, not just the current leaf's.
func TestRunReactionsWalksAncestorChain(t *testing.T) {
	ctx := context.Background()
	tc := &testCtx{}
	sm := hsm.Start(ctx, tc, ptr(buildTestModel()))
	_ = sm.Dispatch(ctx, hsm.Event{Name: "go"})
	tc.log = nil

	if err := sm.RunReactions(ctx, hsm.Event{Name: "go"}); err != nil {
		t.Fatalf("RunReactions: %v", err)
	}
	want := []string{"reactB", "reactC"}
	if !slices.Equal(tc.log, want) {
		t.Fatalf("RunReactions ran %v, want ancestor then leaf %v", tc.log, want)
	}
}

func ptr[T any](v T) *T { return &v }
