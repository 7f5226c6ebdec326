package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(behavior Behavior, thinkingMode bool, fragments ...string) (State, []Event, Result) {
	s := NewState(behavior, thinkingMode)
	var all []Event
	for _, f := range fragments {
		var evs []Event
		s, evs = s.Feed(f)
		all = append(all, evs...)
	}
	s, evs, res := s.Finish()
	all = append(all, evs...)
	return s, all, res
}

func tokens(events []Event) string {
	out := ""
	for _, e := range events {
		if e.Type == EventToken {
			out += e.Content
		}
	}
	return out
}

func TestNewState(t *testing.T) {
	assert.True(t, NewState(BehaviorFixed, false).InThinking)
	assert.True(t, NewState(BehaviorControllable, true).InThinking)
	assert.False(t, NewState(BehaviorControllable, false).InThinking)
	assert.False(t, NewState(BehaviorNone, true).InThinking)
}

func TestParseBehavior(t *testing.T) {
	assert.Equal(t, BehaviorFixed, ParseBehavior("fixed"))
	assert.Equal(t, BehaviorNone, ParseBehavior("none"))
	assert.Equal(t, BehaviorControllable, ParseBehavior("controllable"))
	assert.Equal(t, BehaviorControllable, ParseBehavior("unknown"))
}

func TestScenarioControllableWithThinking(t *testing.T) {
	_, events, res := run(BehaviorControllable, true, "<think>reason", "ing here</think>answer", " text<|im_end|>")

	assert.Equal(t, "answer text", res.Response)
	require.NotNil(t, res.Thinking)
	assert.Equal(t, "reasoning here", *res.Thinking)

	completeAt, answerAt, completes := -1, -1, 0
	for i, e := range events {
		if e.Type == EventThinking && e.Complete {
			completes++
			completeAt = i
			assert.Equal(t, "reasoning here", e.Content)
		}
		if e.Type == EventToken && e.Content == "answer" && answerAt < 0 {
			answerAt = i
		}
		assert.NotEqual(t, EventReclassify, e.Type)
	}
	assert.Equal(t, 1, completes)
	require.GreaterOrEqual(t, answerAt, 0)
	assert.Less(t, completeAt, answerAt)
	assert.Equal(t, "answer text", tokens(events))
}

func TestScenarioFixedWithoutClosingTag(t *testing.T) {
	_, events, res := run(BehaviorFixed, false, "partial thought", "<|im_end|>")

	assert.Equal(t, "partial thought", res.Response)
	assert.Nil(t, res.Thinking)
	require.NotEmpty(t, events)
	assert.Equal(t, EventReclassify, events[len(events)-1].Type)
}

func TestScenarioNoneBehaviorIsVerbatim(t *testing.T) {
	_, events, res := run(BehaviorNone, true, "<think>literal text<|im_end|>")

	assert.Equal(t, "<think>literal text", res.Response)
	assert.Nil(t, res.Thinking)
	assert.Equal(t, "<think>literal text", tokens(events))
	for _, e := range events {
		assert.NotEqual(t, EventThinking, e.Type)
	}
}

func TestThinkingEventsCarryAccumulatedText(t *testing.T) {
	s := NewState(BehaviorFixed, false)
	s, evs := s.Feed("one ")
	require.Len(t, evs, 1)
	assert.Equal(t, Event{Type: EventThinking, Content: "one "}, evs[0])

	_, evs = s.Feed("two")
	require.Len(t, evs, 1)
	assert.Equal(t, "one two", evs[0].Content)
	assert.False(t, evs[0].Complete)
}

func TestAlternateTagDialect(t *testing.T) {
	_, _, res := run(BehaviorControllable, false, "<thinking>plan</thinking>done<|im_end|>")
	assert.Equal(t, "done", res.Response)
	require.NotNil(t, res.Thinking)
	assert.Equal(t, "plan", *res.Thinking)
}

func TestEarliestMarkerWins(t *testing.T) {
	t.Run("end marker before opening tag", func(t *testing.T) {
		_, _, res := run(BehaviorControllable, false, "hi<|im_end|><think>x</think>")
		assert.Equal(t, "hi", res.Response)
		assert.Nil(t, res.Thinking)
	})

	t.Run("closing tag before end marker", func(t *testing.T) {
		_, _, res := run(BehaviorFixed, false, "a</think>b<|im_end|>c")
		assert.Equal(t, "b", res.Response)
		require.NotNil(t, res.Thinking)
		assert.Equal(t, "a", *res.Thinking)
	})

	t.Run("alternate closing tag earlier than short one", func(t *testing.T) {
		_, _, res := run(BehaviorFixed, false, "a</thinking>b</think>c<|im_end|>")
		assert.Equal(t, "b</think>c", res.Response)
		assert.Equal(t, "a", *res.Thinking)
	})
}

func TestRoleMarkerTerminatesTurn(t *testing.T) {
	tests := []struct {
		name      string
		behavior  Behavior
		mode      bool
		fragments []string
		response  string
	}{
		{name: "response", behavior: BehaviorControllable, mode: false, fragments: []string{"answer<|im_start|>user\nmore", "ignored"}, response: "answer"},
		{name: "none behavior", behavior: BehaviorNone, fragments: []string{"x<|im_start|>assistant"}, response: "x"},
		{name: "system marker", behavior: BehaviorControllable, fragments: []string{"y", "<|im_start|>system hi"}, response: "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, res := run(tt.behavior, tt.mode, tt.fragments...)
			assert.True(t, s.Ended)
			assert.Equal(t, tt.response, res.Response)
		})
	}
}

func TestRoleMarkerInsideThinkingFlushesToThinking(t *testing.T) {
	_, events, res := run(BehaviorFixed, false, "thought<|im_start|>user")
	assert.Equal(t, "thought", res.Response)
	assert.Nil(t, res.Thinking)
	assert.Equal(t, EventThinking, events[0].Type)
	assert.Equal(t, EventReclassify, events[len(events)-1].Type)
}

func TestLeadingWhitespaceSuppressedForDisplayOnly(t *testing.T) {
	s := NewState(BehaviorControllable, false)
	s, evs := s.Feed("\n\n")
	assert.Empty(t, evs)
	s, evs = s.Feed("  Hello")
	require.Len(t, evs, 1)
	assert.Equal(t, "Hello", evs[0].Content)
	s, evs = s.Feed(" world")
	require.Len(t, evs, 1)
	assert.Equal(t, " world", evs[0].Content)

	_, _, res := s.Finish()
	assert.Equal(t, "\n\n  Hello world", res.Response)
}

func TestWhitespaceSuppressionResetsAfterThinking(t *testing.T) {
	_, events, res := run(BehaviorFixed, false, "t</think>\n\nAnswer")
	assert.Equal(t, "Answer", tokens(events))
	assert.Equal(t, "\n\nAnswer", res.Response)
}

func TestEndOfTextStripped(t *testing.T) {
	_, _, res := run(BehaviorNone, false, "a<|end_of_text|>b", "<|end_of_text|>")
	assert.Equal(t, "ab", res.Response)
}

func TestFeedAfterEndIsIgnored(t *testing.T) {
	s := NewState(BehaviorNone, false)
	s, _ = s.Feed("done<|im_end|>")
	s, evs := s.Feed("more")
	assert.Nil(t, evs)
	assert.Equal(t, "done", s.Response)
}

func TestRedundantOpeningTagInsideThinking(t *testing.T) {
	t.Run("swallowed at segment start", func(t *testing.T) {
		_, _, res := run(BehaviorFixed, false, "\n<think>idea</think>ok")
		require.NotNil(t, res.Thinking)
		assert.Equal(t, "idea", *res.Thinking)
		assert.Equal(t, "ok", res.Response)
	})
	t.Run("kept as text mid segment", func(t *testing.T) {
		_, _, res := run(BehaviorFixed, false, "use <think> tags</think>ok")
		require.NotNil(t, res.Thinking)
		assert.Equal(t, "use <think> tags", *res.Thinking)
	})
}

func TestUnclosedTrailingSegmentAfterClosedOne(t *testing.T) {
	_, events, res := run(BehaviorControllable, true, "first</think>answer <think>second")
	assert.Equal(t, "secondanswer ", res.Response)
	require.NotNil(t, res.Thinking)
	assert.Equal(t, "first", *res.Thinking)
	assert.Equal(t, EventReclassify, events[len(events)-1].Type)
}

func TestCancelledMidTurnKeepsPartialOutput(t *testing.T) {
	s := NewState(BehaviorControllable, false)
	s, _ = s.Feed("partial ans")
	_, evs, res := s.Finish()
	assert.Empty(t, evs)
	assert.Equal(t, "partial ans", res.Response)
}

func TestUnclosedTailAcrossFragmentsIsPrepended(t *testing.T) {
	_, _, res := run(BehaviorControllable, true, "a</think>answer", "<think>tail")
	assert.Equal(t, "tailanswer", res.Response)
	require.NotNil(t, res.Thinking)
	assert.Equal(t, "a", *res.Thinking)
}
