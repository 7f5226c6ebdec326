// Package stream 实现生成流分类状态机：把模型输出的原始片段拆分为"思考"和"回复"两部分。
//
// 状态机是纯值类型，每次 Feed 返回新的状态和需要发送给前端的事件，不依赖任何连接。
package stream

import (
	"strings"
	"unicode"
)

// 特殊标记。
const (
	TurnEnd   = "<|im_end|>"
	EndOfText = "<|end_of_text|>"
)

var (
	openTags    = []string{"<think>", "<thinking>"}
	closeTags   = []string{"</think>", "</thinking>"}
	roleMarkers = []string{"<|im_start|>user", "<|im_start|>assistant", "<|im_start|>system"}
)

// Behavior 是模型的思考行为。
type Behavior string

const (
	BehaviorFixed        Behavior = "fixed"
	BehaviorControllable Behavior = "controllable"
	BehaviorNone         Behavior = "none"
)

// ParseBehavior 解析模型配置中的思考行为，未知值按 controllable 处理。
func ParseBehavior(v string) Behavior {
	switch Behavior(v) {
	case BehaviorFixed, BehaviorNone:
		return Behavior(v)
	default:
		return BehaviorControllable
	}
}

// EventType 是分类器产生的事件类型，与 websocket 消息的 type 字段一致。
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToken      EventType = "token"
	EventReclassify EventType = "reclassify_thinking_as_response"
)

// Event 是一次需要转发给前端的更新。
// thinking 事件的 Content 是当前思考段累计的全文，token 事件的 Content 是增量。
type Event struct {
	Type     EventType
	Content  string
	Complete bool
}

// Result 是一轮生成最终需要持久化的内容。Thinking 只在观察到闭合标签时非空。
type Result struct {
	Response string
	Thinking *string
}

// State 是一轮生成的分类状态。
type State struct {
	Behavior   Behavior
	InThinking bool
	// Thinking 当前未闭合思考段的累计文本。
	Thinking string
	// SavedThinking 最近一个已闭合思考段的文本。
	SavedThinking string
	// Response 回复的权威文本，包含前导空白。
	Response        string
	FoundClosingTag bool
	// ResponseStarted 当前回复段是否已出现非空白字符，只影响展示。
	ResponseStarted bool
	Ended           bool
}

// NewState 根据模型行为和 prompt 的思考模式确定初始状态。
func NewState(behavior Behavior, thinkingMode bool) State {
	s := State{Behavior: behavior}
	switch behavior {
	case BehaviorFixed:
		s.InThinking = true
	case BehaviorControllable:
		s.InThinking = thinkingMode
	}
	return s
}

type markerKind int

const (
	markerOpen markerKind = iota
	markerClose
	markerEnd
)

// Feed 消费一个片段。最靠左的标记决定切分点，标记前的文本先写入当前缓冲区再转移状态。
// 回合结束后的输入被忽略。
func (s State) Feed(fragment string) (State, []Event) {
	if s.Ended {
		return s, nil
	}
	text := strings.ReplaceAll(fragment, EndOfText, "")

	var events []Event
	for text != "" && !s.Ended {
		idx, size, kind := s.nextMarker(text)
		if idx < 0 {
			events = s.flush(text, events)
			break
		}
		events = s.flush(text[:idx], events)
		text = text[idx+size:]

		switch kind {
		case markerOpen:
			s.InThinking = true
			s.Thinking = ""
		case markerClose:
			events = s.closeThinking(events)
		case markerEnd:
			// 回合结束标记或模型提前开始新角色，丢弃片段剩余内容
			s.Ended = true
		}
	}
	return s, events
}

// Finish 结束本轮生成。未闭合的思考段被重新归类为回复并放在回复开头，同时产生一个 reclassify 事件。
// 之前闭合过的思考段照常保存。
func (s State) Finish() (State, []Event, Result) {
	var events []Event
	if s.Thinking != "" {
		events = append(events, Event{Type: EventReclassify})
		s.Response = s.Thinking + s.Response
		s.Thinking = ""
		s.InThinking = false
	}
	s.Ended = true

	res := Result{Response: s.Response}
	if s.FoundClosingTag {
		thinking := s.SavedThinking
		res.Thinking = &thinking
	}
	return s, events, res
}

func (s *State) nextMarker(text string) (int, int, markerKind) {
	best, bestSize, bestKind := -1, 0, markerEnd
	consider := func(tag string, kind markerKind, accept func(i int) bool) {
		i := strings.Index(text, tag)
		if i < 0 || (best >= 0 && i >= best) {
			return
		}
		if accept != nil && !accept(i) {
			return
		}
		best, bestSize, bestKind = i, len(tag), kind
	}

	consider(TurnEnd, markerEnd, nil)
	for _, tag := range roleMarkers {
		consider(tag, markerEnd, nil)
	}

	switch {
	case s.Behavior == BehaviorNone:
	case s.InThinking:
		for _, tag := range closeTags {
			consider(tag, markerClose, nil)
		}
		// 已处于思考段时，段首重复的开启标签直接吞掉
		for _, tag := range openTags {
			consider(tag, markerOpen, func(i int) bool {
				return strings.TrimSpace(s.Thinking+text[:i]) == ""
			})
		}
	default:
		for _, tag := range openTags {
			consider(tag, markerOpen, nil)
		}
	}
	return best, bestSize, bestKind
}

func (s *State) flush(text string, events []Event) []Event {
	if text == "" {
		return events
	}
	if s.InThinking && s.Behavior != BehaviorNone {
		s.Thinking += text
		return append(events, Event{Type: EventThinking, Content: s.Thinking})
	}

	s.Response += text
	display := text
	if !s.ResponseStarted {
		if strings.TrimSpace(text) == "" {
			return events
		}
		s.ResponseStarted = true
		display = strings.TrimLeftFunc(text, unicode.IsSpace)
	}
	return append(events, Event{Type: EventToken, Content: display})
}

func (s *State) closeThinking(events []Event) []Event {
	events = append(events, Event{Type: EventThinking, Content: s.Thinking, Complete: true})
	s.SavedThinking = s.Thinking
	s.Thinking = ""
	s.FoundClosingTag = true
	s.InThinking = false
	s.ResponseStarted = false
	return events
}
