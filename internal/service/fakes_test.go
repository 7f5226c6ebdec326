package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"baguette-chat-go/internal/model"
	"baguette-chat-go/internal/prompt"
	"baguette-chat-go/internal/rag"
	"baguette-chat-go/pkg/llm"
	"baguette-chat-go/pkg/tasks"

	"gorm.io/gorm"
)

type memoryClients struct {
	mu     sync.Mutex
	byFP   map[string]*model.Client
	nextID uint
}

func newMemoryClients() *memoryClients {
	return &memoryClients{byFP: map[string]*model.Client{}}
}

func (m *memoryClients) GetOrCreate(_ context.Context, fp string) (*model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byFP[fp]; ok {
		return c, nil
	}
	m.nextID++
	c := &model.Client{ID: m.nextID, Fingerprint: fp}
	m.byFP[fp] = c
	return c, nil
}

func (m *memoryClients) FindByFingerprint(_ context.Context, fp string) (*model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byFP[fp]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryClients) Update(_ context.Context, c *model.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byFP[c.Fingerprint] = c
	return nil
}

type memoryConversations struct {
	byID map[string]*model.Conversation
	msgs *memoryMessages
	docs *memoryDocuments
}

func (m *memoryConversations) Create(_ context.Context, c *model.Conversation) error {
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memoryConversations) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	if c, ok := m.byID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryConversations) FindMostRecent(_ context.Context, clientID uint) (*model.Conversation, error) {
	var best *model.Conversation
	for _, c := range m.byID {
		if c.ClientID == clientID && (best == nil || c.LastAccessedAt.After(best.LastAccessedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memoryConversations) ListByClient(_ context.Context, clientID uint) ([]model.ConversationSummary, error) {
	var out []model.ConversationSummary
	for _, c := range m.byID {
		if c.ClientID != clientID {
			continue
		}
		n := int64(0)
		for _, msg := range m.msgs.rows {
			if msg.ConversationID == c.ID {
				n++
			}
		}
		out = append(out, model.ConversationSummary{Conversation: *c, MessageCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessedAt.After(out[j].LastAccessedAt) })
	return out, nil
}

func (m *memoryConversations) UpdateTitle(_ context.Context, id, title string) error {
	m.byID[id].Title = title
	return nil
}

func (m *memoryConversations) Touch(_ context.Context, id string, at time.Time) error {
	m.byID[id].LastAccessedAt = at
	return nil
}

func (m *memoryConversations) Delete(_ context.Context, id string) error {
	delete(m.byID, id)
	kept := m.msgs.rows[:0]
	for _, msg := range m.msgs.rows {
		if msg.ConversationID != id {
			kept = append(kept, msg)
		}
	}
	m.msgs.rows = kept
	for docID, d := range m.docs.byID {
		if d.ConversationID == id {
			delete(m.docs.byID, docID)
		}
	}
	return nil
}

type memoryMessages struct {
	rows   []model.Message
	nextID uint
}

func (m *memoryMessages) ListByConversation(_ context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	for _, msg := range m.rows {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memoryMessages) AppendAndPrune(_ context.Context, msg *model.Message, pruneIDs []uint) error {
	prune := map[uint]bool{}
	for _, id := range pruneIDs {
		prune[id] = true
	}
	kept := m.rows[:0]
	for _, r := range m.rows {
		if !prune[r.ID] {
			kept = append(kept, r)
		}
	}
	m.nextID++
	msg.ID = m.nextID
	m.rows = append(kept, *msg)
	return nil
}

type memoryDocuments struct {
	byID map[string]*model.Document
}

func (m *memoryDocuments) Create(_ context.Context, d *model.Document) error {
	cp := *d
	cp.UploadTimestamp = time.Now()
	m.byID[d.ID] = &cp
	return nil
}

func (m *memoryDocuments) FindByID(_ context.Context, id string) (*model.Document, error) {
	if d, ok := m.byID[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryDocuments) ListByConversation(_ context.Context, conversationID string) ([]model.Document, error) {
	var out []model.Document
	for _, d := range m.byID {
		if d.ConversationID == conversationID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTimestamp.After(out[j].UploadTimestamp) })
	return out, nil
}

func (m *memoryDocuments) CountReady(_ context.Context, conversationID string) (int64, error) {
	n := int64(0)
	for _, d := range m.byID {
		if d.ConversationID == conversationID && d.Status == model.DocumentReady {
			n++
		}
	}
	return n, nil
}

func (m *memoryDocuments) FindReadyByHash(context.Context, string, string, string) (*model.Document, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryDocuments) MarkReady(_ context.Context, id string, chunkCount int, hash string) error {
	d := m.byID[id]
	d.Status, d.ChunkCount, d.ContentHash = model.DocumentReady, chunkCount, &hash
	return nil
}

func (m *memoryDocuments) MarkFailed(_ context.Context, id, message string) error {
	d := m.byID[id]
	d.Status, d.ErrorMessage = model.DocumentFailed, &message
	return nil
}

func (m *memoryDocuments) ListStaleProcessing(context.Context, time.Time) ([]model.Document, error) {
	return nil, nil
}

func (m *memoryDocuments) Delete(_ context.Context, id string) error {
	delete(m.byID, id)
	return nil
}

type memoryObjects struct {
	objects map[string][]byte
	removed []string
}

func (m *memoryObjects) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.objects[name] = buf.Bytes()
	return nil
}

func (m *memoryObjects) Remove(_ context.Context, name string) error {
	delete(m.objects, name)
	m.removed = append(m.removed, name)
	return nil
}

type recordingDispatcher struct {
	tasks []tasks.DocumentTask
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t tasks.DocumentTask) error {
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

type fakeKeyword struct {
	deletedDocs  []string
	deletedConvs []string
	hits         []model.KeywordHit
}

func (f *fakeKeyword) DeleteByDocument(_ context.Context, id string) error {
	f.deletedDocs = append(f.deletedDocs, id)
	return nil
}

func (f *fakeKeyword) DeleteByConversation(_ context.Context, id string) error {
	f.deletedConvs = append(f.deletedConvs, id)
	return nil
}

func (f *fakeKeyword) SearchKeyword(context.Context, string, string, int) ([]model.KeywordHit, error) {
	return f.hits, nil
}

type memoryModels struct {
	byName map[string]model.ModelConfig
}

func (m *memoryModels) FindByName(_ context.Context, name string) (*model.ModelConfig, error) {
	if c, ok := m.byName[name]; ok {
		return &c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryModels) List(context.Context) ([]model.ModelConfig, error) {
	var out []model.ModelConfig
	for _, c := range m.byName {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryModels) ListTemplates(context.Context) ([]model.SystemPromptTemplate, error) {
	return nil, nil
}

func (m *memoryModels) SeedModels(_ context.Context, configs []model.ModelConfig) (int, error) {
	n := 0
	for _, c := range configs {
		if _, ok := m.byName[c.ModelName]; !ok {
			m.byName[c.ModelName] = c
			n++
		}
	}
	return n, nil
}

func (m *memoryModels) SeedTemplates(_ context.Context, t []model.SystemPromptTemplate) (int, error) {
	return len(t), nil
}

// scriptedLLM 按顺序回放片段，token 数等于文本字节数。
type scriptedLLM struct {
	fragments []string
	err       error
	params    prompt.GenerationParams
	prompt    string
	// onFragment 在每个片段发送后调用，测试用来模拟停止或断开。
	onFragment func(i int)
	// stalled 非空时，开始生成后先关闭它，然后一直等到 ctx 结束，模拟迟迟不出首个片段的后端。
	stalled chan struct{}
}

func (s *scriptedLLM) StreamCompletion(ctx context.Context, text string, params prompt.GenerationParams, onFragment func(string) error) error {
	s.prompt, s.params = text, params
	if s.stalled != nil {
		close(s.stalled)
		<-ctx.Done()
		return ctx.Err()
	}
	for i, f := range s.fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(f); err != nil {
			if err == llm.ErrStopped {
				return nil
			}
			return err
		}
		if s.onFragment != nil {
			s.onFragment(i)
		}
	}
	return s.err
}

func (s *scriptedLLM) CountTokens(_ context.Context, text string) (int, error) {
	return len(text), nil
}

func (s *scriptedLLM) Model() string { return "test" }

type staticProvider struct{ client llm.Client }

func (p staticProvider) Get(string) llm.Client { return p.client }

type fakeRetriever struct {
	result *rag.RAGContext
	calls  int
}

func (f *fakeRetriever) Retrieve(context.Context, string, string, rag.SearchOptions) *rag.RAGContext {
	f.calls++
	return f.result
}
