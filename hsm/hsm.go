// Package hsm provides a hierarchical state machine (HSM) implementation for
// Go, generalized from a UML-metamodel-style builder: states nest, guarded
// transitions compute least-common-ancestor entry/exit paths at model-build
// time, and entry/exit behaviors run declaratively.
//
// Two additions generalize the base runtime for the behavioral modeling
// core built on top of it: Tags, which attach caller-defined hierarchical
// labels to a state (e.g. marking it a "flow" or "fix" control-context
// leaf), and Influences/Reaction, which let a state name a set of
// caller-defined effects to run on every dispatch tick the machine settles
// in that state or below it — regardless of whether a transition fired that
// tick. Both
// are read back by Context, not acted on here; this package has no opinion
// on what a tag or an influence name means.
//
// The scheduler is synchronous and single-threaded: Dispatch runs the
// state machine to completion (including any events an effect or reaction
// re-dispatches) before returning, matching a cooperative, one-instance-
// at-a-time execution model with no goroutines and no event queue shared
// across machine instances.
package hsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/ifacehsm/ifacehsm/kind"
	"github.com/ifacehsm/ifacehsm/muid"
)

var (
	Kinds           = kind.Kinds()
	ErrNilHSM       = errors.New("hsm is nil")
	ErrInvalidState = errors.New("invalid state")
)

/******* NamedElement *******/

// NamedElement is any member of a Model's namespace: a state, transition,
// behavior, guard, or the model itself.
type NamedElement interface {
	Kind() uint64
	Owner() string
	Id() string
	Name() string
	QualifiedName() string
}

type element struct {
	kind          uint64
	qualifiedName string
	id            string
}

func (e *element) Kind() uint64 {
	if e == nil {
		return 0
	}
	return e.kind
}

func (e *element) Owner() string {
	if e == nil || e.qualifiedName == "/" {
		return ""
	}
	return path.Dir(e.qualifiedName)
}

func (e *element) Id() string {
	if e == nil {
		return ""
	}
	return e.id
}

func (e *element) Name() string {
	if e == nil {
		return ""
	}
	return path.Base(e.qualifiedName)
}

func (e *element) QualifiedName() string {
	if e == nil {
		return ""
	}
	return e.qualifiedName
}

/******* Model *******/

// Model represents the complete state machine model definition: the root
// state plus a flat namespace of every element reachable from it.
type Model struct {
	state
	namespace map[string]NamedElement
	elements  []RedefinableElement
}

func (model *Model) Namespace() map[string]NamedElement {
	return model.namespace
}

func (model *Model) push(partial RedefinableElement) {
	model.elements = append(model.elements, partial)
}

// RedefinableElement modifies a Model by adding or updating elements. It is
// the closure type every builder function (State, Transition, Entry, ...)
// returns, applied against the model and the stack of enclosing elements.
type RedefinableElement = func(model *Model, stack []NamedElement) NamedElement

/******* Vertex *******/

type vertex struct {
	element
	transitions []string
}

func (v *vertex) Transitions() []string {
	return v.transitions
}

/******* State *******/

type state struct {
	vertex
	initial    string
	entry      string
	exit       string
	tags       []string
	influences []string
	reactions  []string
}

func (s *state) Entry() string          { return s.entry }
func (s *state) Exit() string           { return s.exit }
func (s *state) Tags() []string         { return s.tags }
func (s *state) Influences() []string   { return s.influences }
func (s *state) ReactionNames() []string { return s.reactions }

// HasTag reports whether the state carries the given tag.
func (s *state) HasTag(tag string) bool {
	for _, t := range s.tags {
		if t == tag {
			return true
		}
	}
	return false
}

/******* Transition *******/

type paths struct {
	enter []string
	exit  []string
}

type transition struct {
	element
	source string
	target string
	guard  string
	effect string
	events []Event
	paths  map[string]paths
}

func (t *transition) Guard() string    { return t.guard }
func (t *transition) Effect() string   { return t.effect }
func (t *transition) Events() []Event  { return t.events }
func (t *transition) Source() string   { return t.source }
func (t *transition) Target() string   { return t.target }

/******* Behavior *******/

type behavior[T Context] struct {
	element
	method func(ctx context.Context, hsm T, event Event)
}

// reactionBehavior is a Reaction's method table entry: unlike Entry/Exit/
// Effect it may fail, since reactions drive and sample physical signals.
type reactionBehavior[T Context] struct {
	element
	method func(ctx context.Context, hsm T, event Event) error
}

/******* Constraint *******/

type constraint[T Context] struct {
	element
	expression func(ctx context.Context, hsm T, event Event) bool
}

/******* Events *******/

// Event represents a trigger that can cause state transitions.
type Event struct {
	Kind uint64
	Id   string
	Name string
	Data any
}

var InitialEvent = Event{}
var ErrorEvent = Event{Kind: kind.ErrorEvent}

type DecodedEvent[T any] struct {
	Event
	Data T
}

func DecodeEvent[T any](event Event) (DecodedEvent[T], bool) {
	data, ok := event.Data.(T)
	return DecodedEvent[T]{Event: event, Data: data}, ok
}

func apply(model *Model, stack []NamedElement, partials ...RedefinableElement) {
	for _, partial := range partials {
		partial(model, stack)
	}
}

// Define creates a new state machine model with the given name and elements.
//
// Example:
//
//	model := hsm.Define(
//	    "traffic_light",
//	    hsm.State("red"),
//	    hsm.State("green"),
//	    hsm.Transition(hsm.Trigger("go"), hsm.Source("red"), hsm.Target("green")),
//	    hsm.Initial("red"),
//	)
func Define[T interface{ RedefinableElement | string }](nameOrRedefinableElement T, redefinableElements ...RedefinableElement) Model {
	name := "/"
	switch any(nameOrRedefinableElement).(type) {
	case string:
		name = path.Join(name, any(nameOrRedefinableElement).(string))
	case RedefinableElement:
		redefinableElements = append([]RedefinableElement{any(nameOrRedefinableElement).(RedefinableElement)}, redefinableElements...)
	}
	model := Model{
		state: state{
			vertex: vertex{element: element{kind: kind.State, qualifiedName: "/", id: name}, transitions: []string{}},
		},
		elements: redefinableElements,
	}
	model.namespace = map[string]NamedElement{"/": &model.state}
	stack := []NamedElement{&model.state}
	for len(model.elements) > 0 {
		pending := model.elements
		model.elements = []RedefinableElement{}
		apply(&model, stack, pending...)
	}
	if model.initial == "" {
		panic(fmt.Errorf("initial state is required for state machine %s", model.Id()))
	}
	if model.entry != "" {
		panic(fmt.Errorf("entry actions are not allowed on the top level state machine %s", model.Id()))
	}
	if model.exit != "" {
		panic(fmt.Errorf("exit actions are not allowed on the top level state machine %s", model.Id()))
	}
	return model
}

func find(stack []NamedElement, maybeKinds ...uint64) NamedElement {
	for i := len(stack) - 1; i >= 0; i-- {
		if kind.IsKind(stack[i].Kind(), maybeKinds...) {
			return stack[i]
		}
	}
	return nil
}

func traceback(maybeError ...error) func(err error) {
	_, file, line, _ := runtime.Caller(2)
	fn := func(err error) {
		panic(fmt.Sprintf("%s:%d: %v", file, line, err))
	}
	if len(maybeError) > 0 {
		fn(maybeError[0])
	}
	return fn
}

func get[T NamedElement](model *Model, name string) T {
	var zero T
	if name == "" {
		return zero
	}
	if el, ok := model.namespace[name]; ok {
		if typed, ok := el.(T); ok {
			return typed
		}
	}
	return zero
}

func hasWildcard(events ...Event) bool {
	for _, event := range events {
		if strings.Contains(event.Name, "*") {
			return true
		}
	}
	return false
}

// State creates a new state element with the given name and optional child
// elements: entry/exit actions, tags, influences, reactions, transitions,
// and nested states.
func State(name string, partialElements ...RedefinableElement) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.StateMachine, kind.State)
		if owner == nil {
			traceback(fmt.Errorf("state %q must be called within Define() or State()", name))
		}
		el := &state{
			vertex: vertex{element: element{kind: kind.State, qualifiedName: path.Join(owner.QualifiedName(), name)}, transitions: []string{}},
		}
		model.namespace[el.QualifiedName()] = el
		stack = append(stack, el)
		apply(model, stack, partialElements...)
		model.push(func(model *Model, stack []NamedElement) NamedElement {
			sort.SliceStable(el.transitions, func(i, j int) bool {
				ti := get[*transition](model, el.transitions[i])
				tj := get[*transition](model, el.transitions[j])
				if ti == nil || tj == nil {
					traceback(fmt.Errorf("missing transition for state %q", el.QualifiedName()))
					return false
				}
				return !hasWildcard(ti.events...) && hasWildcard(tj.events...)
			})
			return el
		})
		return el
	}
}

// LCA finds the lowest common ancestor between two qualified state names.
//
//	LCA("/s/s1", "/s/s2") == "/s"
//	LCA("/s/s1", "/s/s1/s11") == "/s/s1"
func LCA(a, b string) string {
	if a == b {
		return path.Dir(a)
	}
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if path.Dir(a) == path.Dir(b) {
		return path.Dir(a)
	}
	if IsAncestor(a, b) {
		return a
	}
	if IsAncestor(b, a) {
		return b
	}
	return LCA(path.Dir(a), path.Dir(b))
}

// IsAncestor reports whether current is a strict ancestor of target in the
// qualified-name hierarchy.
func IsAncestor(current, target string) bool {
	current = path.Clean(current)
	target = path.Clean(target)
	if current == target || current == "." || target == "." {
		return false
	}
	if current == "/" {
		return true
	}
	parent := path.Dir(target)
	for parent != "/" {
		if parent == current {
			return true
		}
		parent = path.Dir(parent)
	}
	return false
}

// Transition creates a new transition between states, optionally named.
func Transition[T interface{ RedefinableElement | string }](nameOrPartialElement T, partialElements ...RedefinableElement) RedefinableElement {
	name := ""
	switch any(nameOrPartialElement).(type) {
	case string:
		name = any(nameOrPartialElement).(string)
	case RedefinableElement:
		partialElements = append([]RedefinableElement{any(nameOrPartialElement).(RedefinableElement)}, partialElements...)
	}
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.Vertex)
		if name == "" {
			name = fmt.Sprintf("transition_%d", len(model.namespace))
		}
		if owner == nil {
			traceback(fmt.Errorf("transition %q must be called within a State() or Define()", name))
		}
		t := &transition{
			events:  []Event{},
			element: element{kind: kind.Transition, qualifiedName: path.Join(owner.QualifiedName(), name)},
			source:  ".",
			paths:   map[string]paths{},
		}
		model.namespace[t.QualifiedName()] = t
		stack = append(stack, t)
		apply(model, stack, partialElements...)
		if t.source == "." || t.source == "" {
			t.source = owner.QualifiedName()
		}
		sourceElement, ok := model.namespace[t.source]
		if !ok {
			traceback(fmt.Errorf("missing source %q for transition %q", t.source, t.QualifiedName()))
		}
		switch src := sourceElement.(type) {
		case *state:
			src.transitions = append(src.transitions, t.QualifiedName())
		case *vertex:
			src.transitions = append(src.transitions, t.QualifiedName())
		}
		if len(t.events) == 0 && !kind.IsKind(sourceElement.Kind(), kind.Pseudostate) {
			traceback(fmt.Errorf("transition %q requires at least one trigger", t.QualifiedName()))
		}
		if t.target == t.source {
			t.kind = kind.Self
		} else if t.target == "" {
			t.kind = kind.Internal
		} else if IsAncestor(t.source, t.target) {
			t.kind = kind.Local
		} else {
			t.kind = kind.External
		}
		enter := []string{}
		entering := t.target
		lca := LCA(t.source, t.target)
		for entering != lca && entering != "/" && entering != "" {
			enter = append([]string{entering}, enter...)
			entering = path.Dir(entering)
		}
		if kind.IsKind(t.kind, kind.Self) {
			enter = append(enter, sourceElement.QualifiedName())
		}
		if kind.IsKind(sourceElement.Kind(), kind.Initial) {
			t.paths[path.Dir(sourceElement.QualifiedName())] = paths{
				enter: enter,
				exit:  []string{sourceElement.QualifiedName()},
			}
		} else {
			model.push(func(model *Model, stack []NamedElement) NamedElement {
				if t.source == model.QualifiedName() && t.target != "" {
					traceback(fmt.Errorf("top level transitions must have a source and target, or no source and target"))
				}
				if kind.IsKind(t.kind, kind.Internal) && t.effect == "" {
					traceback(fmt.Errorf("internal transitions require an effect"))
				}
				for qualifiedName, el := range model.namespace {
					if strings.HasPrefix(qualifiedName, t.source) && kind.IsKind(el.Kind(), kind.Vertex, kind.StateMachine) {
						exit := []string{}
						if t.kind != kind.Internal {
							exiting := el.QualifiedName()
							for exiting != lca && exiting != "" {
								exit = append(exit, exiting)
								if exiting == "/" {
									break
								}
								exiting = path.Dir(exiting)
							}
						}
						t.paths[el.QualifiedName()] = paths{enter: enter, exit: exit}
					}
				}
				return t
			})
		}
		return t
	}
}

// Source specifies the source state of a transition.
func Source[T interface{ RedefinableElement | string }](nameOrPartialElement T) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.Transition)
		if owner == nil {
			traceback(fmt.Errorf("Source() must be called within a Transition()"))
		}
		t := owner.(*transition)
		if t.source != "." && t.source != "" {
			traceback(fmt.Errorf("transition %q already has a source %q", t.QualifiedName(), t.source))
		}
		var name string
		switch any(nameOrPartialElement).(type) {
		case string:
			name = any(nameOrPartialElement).(string)
			if !path.IsAbs(name) {
				if ancestor := find(stack, kind.State); ancestor != nil {
					name = path.Join(ancestor.QualifiedName(), name)
				}
			}
			model.push(func(model *Model, stack []NamedElement) NamedElement {
				if _, ok := model.namespace[name]; !ok {
					traceback(fmt.Errorf("missing source %q for transition %q", name, t.QualifiedName()))
				}
				return owner
			})
		case RedefinableElement:
			el := any(nameOrPartialElement).(RedefinableElement)(model, stack)
			if el == nil {
				traceback(fmt.Errorf("transition %q source is nil", t.QualifiedName()))
			}
			name = el.QualifiedName()
		}
		t.source = name
		return owner
	}
}

// Target specifies the target state of a transition.
func Target[T interface{ RedefinableElement | string }](nameOrPartialElement T) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.Transition)
		if owner == nil {
			traceback(fmt.Errorf("Target() must be called within Transition()"))
		}
		t := owner.(*transition)
		if t.target != "" {
			traceback(fmt.Errorf("transition %q already has target %q", t.QualifiedName(), t.target))
		}
		var qualifiedName string
		switch target := any(nameOrPartialElement).(type) {
		case string:
			qualifiedName = target
			if !path.IsAbs(qualifiedName) {
				if ancestor := find(stack, kind.State); ancestor != nil {
					qualifiedName = path.Join(ancestor.QualifiedName(), qualifiedName)
				}
			}
			model.push(func(model *Model, stack []NamedElement) NamedElement {
				if _, exists := model.namespace[qualifiedName]; !exists {
					traceback(fmt.Errorf("missing target %q for transition %q", target, t.QualifiedName()))
				}
				return t
			})
		case RedefinableElement:
			targetElement := target(model, stack)
			if targetElement == nil {
				traceback(fmt.Errorf("transition %q target is nil", t.QualifiedName()))
			}
			qualifiedName = targetElement.QualifiedName()
		}
		t.target = qualifiedName
		return t
	}
}

// Effect defines an action executed during a transition, after exiting the
// source state and before entering the target state.
func Effect[T Context](fn func(ctx context.Context, hsm T, event Event), maybeName ...string) RedefinableElement {
	name := ".effect"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.Transition)
		if owner == nil {
			traceback(fmt.Errorf("Effect() must be called within a Transition"))
		}
		b := &behavior[T]{element: element{kind: kind.Behavior, qualifiedName: path.Join(owner.QualifiedName(), name)}, method: fn}
		model.namespace[b.QualifiedName()] = b
		owner.(*transition).effect = b.QualifiedName()
		return owner
	}
}

// Guard defines a condition that must be true for a transition to be taken.
// Of the enabled transitions out of a state, the first with a satisfied
// guard wins.
func Guard[T Context](fn func(ctx context.Context, hsm T, event Event) bool, maybeName ...string) RedefinableElement {
	name := ".guard"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.Transition)
		if owner == nil {
			traceback(fmt.Errorf("Guard() must be called within a Transition"))
		}
		c := &constraint[T]{element: element{kind: kind.Constraint, qualifiedName: path.Join(owner.QualifiedName(), name)}, expression: fn}
		model.namespace[c.QualifiedName()] = c
		owner.(*transition).guard = c.QualifiedName()
		return owner
	}
}

// Initial defines the initial state for a composite state or the machine.
// The first argument is either the target state's name (resolved the same
// way Target() resolves a relative name) or a RedefinableElement — commonly
// Target(...) itself when the target needs to be named by expression rather
// than by string.
func Initial[T interface{ string | RedefinableElement }](elementOrName T, partialElements ...RedefinableElement) RedefinableElement {
	name := ".initial"
	switch any(elementOrName).(type) {
	case string:
		partialElements = append([]RedefinableElement{Target(any(elementOrName).(string))}, partialElements...)
	case RedefinableElement:
		partialElements = append([]RedefinableElement{any(elementOrName).(RedefinableElement)}, partialElements...)
	}
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.State)
		if owner == nil {
			traceback(fmt.Errorf("Initial() must be called within a State or Model"))
		}
		initial := &vertex{element: element{kind: kind.Initial, qualifiedName: path.Join(owner.QualifiedName(), name)}}
		owner.(*state).initial = initial.QualifiedName()
		if model.namespace[initial.QualifiedName()] != nil {
			traceback(fmt.Errorf("initial %q already exists for %q", initial.QualifiedName(), owner.QualifiedName()))
		}
		model.namespace[initial.QualifiedName()] = initial
		stack = append(stack, initial)
		t := (Transition(Source(initial.QualifiedName()), append(partialElements, Trigger(InitialEvent))...)(model, stack)).(*transition)
		if t.guard != "" {
			traceback(fmt.Errorf("initial %q cannot have a guard", initial.QualifiedName()))
		}
		if t.events[0].Name != "" {
			traceback(fmt.Errorf("initial %q cannot have triggers", initial.QualifiedName()))
		}
		if !strings.HasPrefix(t.target, owner.QualifiedName()) {
			traceback(fmt.Errorf("initial %q must target a nested state, not %q", initial.QualifiedName(), t.target))
		}
		if len(initial.transitions) > 1 {
			traceback(fmt.Errorf("initial %q cannot have multiple transitions %v", initial.QualifiedName(), initial.transitions))
		}
		return t
	}
}

// Entry defines an action executed when a state is entered.
func Entry[T Context](fn func(ctx context.Context, hsm T, event Event), maybeName ...string) RedefinableElement {
	name := ".entry"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.State)
		if owner == nil {
			traceback(fmt.Errorf("Entry() must be called within a State"))
		}
		b := &behavior[T]{element: element{kind: kind.Behavior, qualifiedName: path.Join(owner.QualifiedName(), name)}, method: fn}
		model.namespace[b.QualifiedName()] = b
		owner.(*state).entry = b.QualifiedName()
		return b
	}
}

// Exit defines an action executed when a state is exited.
func Exit[T Context](fn func(ctx context.Context, hsm T, event Event), maybeName ...string) RedefinableElement {
	name := ".exit"
	if len(maybeName) > 0 {
		name = maybeName[0]
	}
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.State)
		if owner == nil {
			traceback(fmt.Errorf("Exit() must be called within a State"))
		}
		b := &behavior[T]{element: element{kind: kind.Behavior, qualifiedName: path.Join(owner.QualifiedName(), name)}, method: fn}
		model.namespace[b.QualifiedName()] = b
		owner.(*state).exit = b.QualifiedName()
		return b
	}
}

// Tags attaches caller-defined hierarchical labels to a state. The hsm
// package assigns them no meaning; a model built on top of hsm (this
// module's behavioral-model elaborator) reads them back via Context.Tags to
// classify the current leaf (e.g. as a "flow", "fix", or "wait" state).
func Tags(tags ...string) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner, ok := find(stack, kind.State).(*state)
		if !ok {
			traceback(fmt.Errorf("Tags() must be called within a State"))
		}
		owner.tags = append(owner.tags, tags...)
		return owner
	}
}

// Influences names the controls whose cached sample a model built on hsm
// should invalidate whenever the machine settles in this state, leaving the
// hsm package itself with no knowledge of what a "control" or a "cache" is.
func Influences(names ...string) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner, ok := find(stack, kind.State).(*state)
		if !ok {
			traceback(fmt.Errorf("Influences() must be called within a State"))
		}
		owner.influences = append(owner.influences, names...)
		return owner
	}
}

// Reaction attaches a caller-defined effect to a state, run by
// Context.RunReactions on every dispatch tick the machine settles in that
// state or any of its descendants, independent of whether a transition
// actually fired. This realizes
// the event loop's per-tick control sampling and signal-drive obligations
// without hsm needing to know what a reaction does.
func Reaction[T Context](fn func(ctx context.Context, hsm T, event Event) error, maybeName ...string) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner, ok := find(stack, kind.State).(*state)
		if !ok {
			traceback(fmt.Errorf("Reaction() must be called within a State"))
		}
		name := fmt.Sprintf(".reaction_%d", len(owner.reactions))
		if len(maybeName) > 0 {
			name = maybeName[0]
		}
		b := &reactionBehavior[T]{element: element{kind: kind.Reaction, qualifiedName: path.Join(owner.QualifiedName(), name)}, method: fn}
		model.namespace[b.QualifiedName()] = b
		owner.reactions = append(owner.reactions, b.QualifiedName())
		return b
	}
}

// Trigger defines the events that can cause a transition.
func Trigger[T interface{ string | *Event | Event }](events ...T) RedefinableElement {
	traceback := traceback()
	return func(model *Model, stack []NamedElement) NamedElement {
		owner := find(stack, kind.Transition)
		if owner == nil {
			traceback(fmt.Errorf("Trigger() must be called within a Transition"))
		}
		t := owner.(*transition)
		for _, eventOrName := range events {
			switch v := any(eventOrName).(type) {
			case string:
				t.events = append(t.events, Event{Kind: kind.Event, Name: v})
			case Event:
				t.events = append(t.events, v)
			case *Event:
				t.events = append(t.events, *v)
			}
		}
		return owner
	}
}

// Context represents an active state machine instance.
type Context interface {
	NamedElement
	// State returns the current leaf state's qualified name.
	State() string
	// Tags returns the current leaf state's tags.
	Tags() []string
	// Influences returns the influence names declared anywhere along the
	// path from the root to the current leaf state.
	Influences() []string
	// Dispatch runs event to completion against the machine, synchronously.
	Dispatch(ctx context.Context, event Event) error
	// RunReactions invokes every reaction declared anywhere along the path
	// from the root to the current leaf state, root-first, independent of
	// whether Dispatch's call caused a transition. It returns the first
	// reaction error encountered.
	RunReactions(ctx context.Context, event Event) error
	start(Context)
}

// HSM is the base type embedded in custom state machine context types.
//
//	type MyHSM struct {
//	    hsm.HSM
//	    counter int
//	}
type HSM struct {
	Context
}

func (h *HSM) start(ctx Context) {
	if h == nil || h.Context != nil {
		return
	}
	h.Context = ctx
	ctx.start(h)
}

func (h HSM) State() string {
	if h.Context == nil {
		return ""
	}
	return h.Context.State()
}

func (h HSM) Tags() []string {
	if h.Context == nil {
		return nil
	}
	return h.Context.Tags()
}

func (h HSM) Influences() []string {
	if h.Context == nil {
		return nil
	}
	return h.Context.Influences()
}

func (h HSM) Dispatch(ctx context.Context, event Event) error {
	if h.Context == nil {
		return ErrNilHSM
	}
	return h.Context.Dispatch(ctx, event)
}

func (h HSM) RunReactions(ctx context.Context, event Event) error {
	if h.Context == nil {
		return ErrNilHSM
	}
	return h.Context.RunReactions(ctx, event)
}

type queue struct {
	events []Event
}

func (q *queue) pop() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	event := q.events[0]
	q.events = q.events[1:]
	return event, true
}

func (q *queue) push(events ...Event) {
	q.events = append(q.events, events...)
}

type hsm[T Context] struct {
	element
	state   NamedElement
	model   *Model
	context T
	queue   queue
	busy    bool
}

// Config configures a state machine instance.
type Config struct {
	// Id uniquely identifies the instance; defaults to a generated MUID.
	Id string
	// Name overrides the instance's qualified name, defaulting to the
	// model's.
	Name string
}

// Start creates and starts a new state machine instance, driving it to its
// initial leaf state before returning.
//
//	model := hsm.Define(...)
//	sm := hsm.Start(context.Background(), &MyHSM{}, &model)
func Start[T Context](ctx context.Context, sm T, model *Model, config ...Config) T {
	inst := &hsm[T]{
		element: element{kind: kind.StateMachine},
		model:   model,
		state:   &model.state,
		context: sm,
	}
	if len(config) > 0 {
		inst.id = config[0].Id
		inst.qualifiedName = config[0].Name
	}
	if inst.id == "" {
		inst.id = muid.Make().String()
	}
	if inst.qualifiedName == "" {
		inst.qualifiedName = model.QualifiedName()
	}
	sm.start(inst)
	inst.state = inst.enter(ctx, inst.state, InitialEvent, true)
	return sm
}

func (sm *hsm[T]) start(Context) {}

func (sm *hsm[T]) State() string {
	if sm == nil || sm.state == nil {
		return ""
	}
	return sm.state.QualifiedName()
}

func (sm *hsm[T]) Tags() []string {
	if st, ok := sm.state.(*state); ok {
		return st.Tags()
	}
	return nil
}

// chain returns the current leaf's ancestor states, root-first. Influences
// and reactions are read from the whole chain, not just the leaf: a control
// nest that has been subdivided by a deeper precedence level stops being a
// tagged leaf itself, but its own Influences/Reaction calls still apply for
// as long as the machine is anywhere inside it.
func (sm *hsm[T]) chain() []*state {
	var chain []*state
	qualifiedName := sm.State()
	for qualifiedName != "" {
		st := get[*state](sm.model, qualifiedName)
		if st == nil {
			break
		}
		chain = append(chain, st)
		qualifiedName = st.Owner()
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (sm *hsm[T]) Influences() []string {
	var out []string
	for _, st := range sm.chain() {
		out = append(out, st.Influences()...)
	}
	return out
}

func (sm *hsm[T]) enter(ctx context.Context, el NamedElement, event Event, defaultEntry bool) NamedElement {
	if sm == nil || el == nil {
		return nil
	}
	switch el.Kind() {
	case kind.State:
		st := el.(*state)
		if entry := get[*behavior[T]](sm.model, st.entry); entry != nil {
			sm.execute(ctx, entry, event)
		}
		if !defaultEntry || st.initial == "" {
			return st
		}
		return sm.initial(ctx, st, event)
	case kind.FinalState:
		return el
	}
	return nil
}

func (sm *hsm[T]) initial(ctx context.Context, st *state, event Event) NamedElement {
	if sm == nil || st == nil {
		return nil
	}
	if init := get[*vertex](sm.model, st.initial); init != nil {
		if len(init.transitions) > 0 {
			if t := get[*transition](sm.model, init.transitions[0]); t != nil {
				return sm.transition(ctx, st, t, event)
			}
		}
	}
	return st
}

func (sm *hsm[T]) exit(ctx context.Context, el NamedElement, event Event) {
	if sm == nil || el == nil {
		return
	}
	if st, ok := el.(*state); ok {
		if exit := get[*behavior[T]](sm.model, st.exit); exit != nil {
			sm.execute(ctx, exit, event)
		}
	}
}

func (sm *hsm[T]) execute(ctx context.Context, b *behavior[T], event Event) {
	if sm == nil || b == nil {
		return
	}
	b.method(ctx, sm.context, event)
}

func (sm *hsm[T]) evaluate(ctx context.Context, guard *constraint[T], event Event) bool {
	if sm == nil || guard == nil || guard.expression == nil {
		return true
	}
	return guard.expression(ctx, sm.context, event)
}

func (sm *hsm[T]) transition(ctx context.Context, current NamedElement, t *transition, event Event) NamedElement {
	if sm == nil {
		return nil
	}
	p, ok := t.paths[current.QualifiedName()]
	if !ok {
		return nil
	}
	for _, exiting := range p.exit {
		current, ok = sm.model.namespace[exiting]
		if !ok {
			return nil
		}
		sm.exit(ctx, current, event)
	}
	if effect := get[*behavior[T]](sm.model, t.effect); effect != nil {
		sm.execute(ctx, effect, event)
	}
	if kind.IsKind(t.kind, kind.Internal) {
		return current
	}
	for _, entering := range p.enter {
		next, ok := sm.model.namespace[entering]
		if !ok {
			return nil
		}
		defaultEntry := entering == t.target
		current = sm.enter(ctx, next, event, defaultEntry)
		if defaultEntry {
			return current
		}
	}
	current, ok = sm.model.namespace[t.target]
	if !ok {
		return nil
	}
	return current
}

func (sm *hsm[T]) enabled(ctx context.Context, source *vertex, event Event) *transition {
	if sm == nil {
		return nil
	}
	for _, qualifiedName := range source.Transitions() {
		t := get[*transition](sm.model, qualifiedName)
		if t == nil {
			continue
		}
		for _, evt := range t.Events() {
			if matched, err := path.Match(evt.Name, event.Name); err != nil || !matched {
				continue
			}
			if guard := get[*constraint[T]](sm.model, t.Guard()); guard != nil {
				if !sm.evaluate(ctx, guard, event) {
					continue
				}
			}
			return t
		}
	}
	return nil
}

func (sm *hsm[T]) process(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("panic in state machine",
				"error", r,
				"stacktrace", string(debug.Stack()),
				"state", sm.State())
			err = fmt.Errorf("hsm: panic: %v", r)
		}
	}()
	event, ok := sm.queue.pop()
	for ok {
		qualifiedName := sm.State()
		for qualifiedName != "" {
			source := get[*state](sm.model, qualifiedName)
			if source == nil {
				break
			}
			if t := sm.enabled(ctx, &source.vertex, event); t != nil {
				sm.state = sm.transition(ctx, sm.state, t, event)
				break
			}
			qualifiedName = source.Owner()
		}
		event, ok = sm.queue.pop()
	}
	return nil
}

func (sm *hsm[T]) Dispatch(ctx context.Context, event Event) error {
	if sm == nil || sm.state == nil {
		return ErrInvalidState
	}
	if sm.busy {
		sm.queue.push(event)
		return nil
	}
	if event.Kind == 0 {
		event.Kind = kind.Event
	}
	sm.busy = true
	defer func() { sm.busy = false }()
	sm.queue.push(event)
	return sm.process(ctx)
}

func (sm *hsm[T]) RunReactions(ctx context.Context, event Event) error {
	for _, st := range sm.chain() {
		for _, name := range st.reactions {
			r := get[*reactionBehavior[T]](sm.model, name)
			if r == nil || r.method == nil {
				continue
			}
			if err := r.method(ctx, sm.context, event); err != nil {
				return err
			}
		}
	}
	return nil
}
