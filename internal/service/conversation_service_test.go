package service

import (
	"context"
	"testing"
	"time"

	"baguette-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conversationFixture struct {
	clients *memoryClients
	convs   *memoryConversations
	msgs    *memoryMessages
	docs    *memoryDocuments
	objects *memoryObjects
	keyword *fakeKeyword
	svc     ConversationService
}

func newConversationFixture() *conversationFixture {
	f := &conversationFixture{
		clients: newMemoryClients(),
		msgs:    &memoryMessages{},
		docs:    &memoryDocuments{byID: map[string]*model.Document{}},
		objects: &memoryObjects{objects: map[string][]byte{}},
		keyword: &fakeKeyword{},
	}
	f.convs = &memoryConversations{byID: map[string]*model.Conversation{}, msgs: f.msgs, docs: f.docs}
	f.svc = NewConversationService(f.clients, f.convs, f.msgs, f.docs, f.objects, f.keyword)
	return f
}

func TestCreateConversationDefaults(t *testing.T) {
	f := newConversationFixture()

	created, err := f.svc.Create(context.Background(), ConversationCreate{ClientID: "fp-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.DefaultConversationTitle, created.Title)
	assert.Zero(t, created.MessageCount)

	named, err := f.svc.Create(context.Background(), ConversationCreate{ID: "client-side-id", ClientID: "fp-1", Title: "Bread"})
	require.NoError(t, err)
	assert.Equal(t, "client-side-id", named.ID)
	assert.Equal(t, "Bread", named.Title)

	list, err := f.svc.List(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	others, err := f.svc.List(context.Background(), "fp-2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestConversationOwnership(t *testing.T) {
	f := newConversationFixture()
	conv, err := f.svc.Create(context.Background(), ConversationCreate{ClientID: "fp-owner"})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), conv.ID, "fp-intruder")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Get(context.Background(), "missing", "fp-owner")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.UpdateTitle(context.Background(), conv.ID, "fp-intruder", "stolen")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), conv.ID, "fp-intruder"), ErrForbidden)

	// Touch 不暴露对话是否存在
	assert.ErrorIs(t, f.svc.Touch(context.Background(), conv.ID, "fp-intruder"), ErrNotFound)
	assert.ErrorIs(t, f.svc.Touch(context.Background(), "missing", "fp-owner"), ErrNotFound)
}

func TestGetAndUpdateTitle(t *testing.T) {
	f := newConversationFixture()
	conv, err := f.svc.Create(context.Background(), ConversationCreate{ClientID: "fp-1"})
	require.NoError(t, err)
	f.msgs.rows = []model.Message{
		{ID: 1, ConversationID: conv.ID, Role: model.RoleUser, Content: "hi"},
		{ID: 2, ConversationID: conv.ID, Role: model.RoleAssistant, Content: "hello"},
	}

	detail, err := f.svc.Get(context.Background(), conv.ID, "fp-1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "hello", detail.Messages[1].Content)

	updated, err := f.svc.UpdateTitle(context.Background(), conv.ID, "fp-1", "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.EqualValues(t, 2, updated.MessageCount)
	assert.Equal(t, "Renamed", f.convs.byID[conv.ID].Title)
}

func TestDeleteCascadesAndCleansStorage(t *testing.T) {
	f := newConversationFixture()
	conv, err := f.svc.Create(context.Background(), ConversationCreate{ClientID: "fp-1"})
	require.NoError(t, err)
	f.docs.byID["doc-1"] = &model.Document{ID: "doc-1", ConversationID: conv.ID, OriginalPath: "documents/c/doc-1.txt"}
	f.msgs.rows = []model.Message{{ID: 1, ConversationID: conv.ID, Role: model.RoleUser, Content: "hi"}}

	require.NoError(t, f.svc.Delete(context.Background(), conv.ID, "fp-1"))
	assert.Empty(t, f.convs.byID)
	assert.Empty(t, f.docs.byID)
	assert.Empty(t, f.msgs.rows)
	assert.Equal(t, []string{"documents/c/doc-1.txt"}, f.objects.removed)
	assert.Equal(t, []string{conv.ID}, f.keyword.deletedConvs)
}

func TestTouchUpdatesLastAccess(t *testing.T) {
	f := newConversationFixture()
	conv, err := f.svc.Create(context.Background(), ConversationCreate{ClientID: "fp-1"})
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	f.svc.(*conversationService).now = func() time.Time { return later }
	require.NoError(t, f.svc.Touch(context.Background(), conv.ID, "fp-1"))
	assert.True(t, f.convs.byID[conv.ID].LastAccessedAt.Equal(later))
}

func TestResolveForTurn(t *testing.T) {
	f := newConversationFixture()
	client, err := f.clients.GetOrCreate(context.Background(), "fp-1")
	require.NoError(t, err)

	// 没有对话时新建
	first, err := f.svc.ResolveForTurn(context.Background(), client, "")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, first.Title)
	require.Len(t, f.convs.byID, 1)

	// 有对话时复用最近访问的那个
	again, err := f.svc.ResolveForTurn(context.Background(), client, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, f.convs.byID, 1)

	explicit, err := f.svc.ResolveForTurn(context.Background(), client, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, explicit.ID)

	_, err = f.svc.ResolveForTurn(context.Background(), client, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := f.clients.GetOrCreate(context.Background(), "fp-2")
	require.NoError(t, err)
	_, err = f.svc.ResolveForTurn(context.Background(), other, first.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestClientUpdateValidation(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	long := string(make([]rune, MaxSystemPromptLength+1))

	tests := []struct {
		name    string
		update  ClientUpdate
		wantErr string
	}{
		{"empty update", ClientUpdate{}, ""},
		{"all in range", ClientUpdate{Temperature: f(2), TopP: f(0), TopK: i(100), RepetitionPenalty: f(1), MaxTokens: i(100)}, ""},
		{"temperature too high", ClientUpdate{Temperature: f(2.1)}, "temperature"},
		{"top_p negative", ClientUpdate{TopP: f(-0.1)}, "top_p"},
		{"top_k zero", ClientUpdate{TopK: i(0)}, "top_k"},
		{"repetition penalty low", ClientUpdate{RepetitionPenalty: f(0.9)}, "repetition_penalty"},
		{"max tokens too high", ClientUpdate{MaxTokens: i(4097)}, "max_tokens"},
		{"system prompt too long", ClientUpdate{SystemPrompt: &long}, "System prompt exceeds maximum length of 4000 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClientServiceUpdate(t *testing.T) {
	clients := newMemoryClients()
	svc := NewClientService(clients)

	_, err := svc.Get(context.Background(), "fp-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Update(context.Background(), "fp-1", ClientUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetOrCreate(context.Background(), "fp-1")
	require.NoError(t, err)

	prompt := "Be brief."
	temp := 0.2
	updated, err := svc.Update(context.Background(), "fp-1", ClientUpdate{SystemPrompt: &prompt, Temperature: &temp})
	require.NoError(t, err)
	require.NotNil(t, updated.SystemPrompt)
	assert.Equal(t, "Be brief.", *updated.SystemPrompt)
	assert.Equal(t, 0.2, *updated.Temperature)
	assert.Nil(t, updated.TopK)

	again, err := svc.Get(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", *again.SystemPrompt)
}
