package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailmaestro/internal/classify"
	"mailmaestro/internal/config"
	"mailmaestro/internal/dedup"
	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/internal/notes"
	"mailmaestro/internal/pipeline"
	"mailmaestro/internal/prompt"
	"mailmaestro/internal/schedule"
)

type fakeMailClient struct {
	mu     sync.Mutex
	unread []mail.Message
	drafts []mail.Draft
	sent   []mail.OutgoingMessage
	labels map[string][]string
	read   []string
}

func newFakeMailClient(unread ...mail.Message) *fakeMailClient {
	return &fakeMailClient{unread: unread, labels: make(map[string][]string)}
}

func (f *fakeMailClient) FetchUnread(context.Context) ([]mail.Message, error) { return f.unread, nil }

func (f *fakeMailClient) CreateDraft(_ context.Context, d mail.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, d)
	return nil
}

func (f *fakeMailClient) AddLabel(_ context.Context, id, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[id] = append(f.labels[id], label)
	return nil
}

func (f *fakeMailClient) MarkAsRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, id)
	return nil
}

func (f *fakeMailClient) Send(_ context.Context, m mail.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailClient) Close() error { return nil }

type memoryRepository struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{seen: make(map[string]time.Time)}
}

func (m *memoryRepository) Seen(_ context.Context, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[fp]
	return ok, nil
}

func (m *memoryRepository) Mark(_ context.Context, fp string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[fp]; !ok {
		m.seen[fp] = at
	}
	return nil
}

type fixedClassifier struct {
	categories map[string]string
}

func (f *fixedClassifier) Classify(_ context.Context, msg mail.Message, _, _ string) (string, error) {
	if cat, ok := f.categories[msg.ID]; ok {
		return cat, nil
	}
	return classify.CategoryOther, nil
}

type fixedDetector struct{}

func (fixedDetector) Detect(string) string { return "en" }

// countingCompleter answers by substring and records every call.
type countingCompleter struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   int
}

func (c *countingCompleter) Complete(_ context.Context, p string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	for substr, err := range c.errs {
		if strings.Contains(p, substr) {
			return "", err
		}
	}
	for substr, answer := range c.answers {
		if strings.Contains(p, substr) {
			return answer, nil
		}
	}
	return "", errors.New("no scripted answer")
}

type fakeNotesStore struct {
	mu      sync.Mutex
	inserts []notes.ConcertRecord
	done    chan struct{}
}

func newFakeNotesStore() *fakeNotesStore { return &fakeNotesStore{done: make(chan struct{}, 8)} }

func (f *fakeNotesStore) Insert(_ context.Context, _ string, r notes.ConcertRecord) error {
	f.mu.Lock()
	f.inserts = append(f.inserts, r)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	mailer       *fakeMailClient
	completer    *countingCompleter
	store        *fakeNotesStore
	repo         *memoryRepository
}

func buildHarness(t *testing.T, categories map[string]string, unread ...mail.Message) *harness {
	t.Helper()
	log := logger.NopLogger()

	registry, err := prompt.NewRegistry()
	require.NoError(t, err)

	completer := &countingCompleter{
		answers: make(map[string]string),
		errs:    make(map[string]error),
	}
	mailer := newFakeMailClient(unread...)
	store := newFakeNotesStore()
	repo := newMemoryRepository()

	sched := schedule.NewScheduler(log)
	t.Cleanup(sched.Stop)

	pipelineCfg := config.PipelineConfig{
		Recruiter:     config.RecruiterConfig{NotifyAddress: "me@example.com"},
		Concert:       config.ConcertConfig{InviteRecipient: "me@example.com", NotesDeferSeconds: 0},
		Transactional: config.TransactionalConfig{Label: "Transactional"},
	}

	extractor := pipeline.NewExtractor(completer, registry, log)
	validator := pipeline.NewValidator(extractor, log)
	composer := pipeline.NewComposer(completer, registry, log)
	dispatcher := pipeline.NewDispatcher(mailer, sched, store, pipelineCfg, config.NotesConfig{CollectionID: "col-1"}, log)
	proc := pipeline.New(extractor, validator, composer, dispatcher, log)

	guard := dedup.NewGuard(dedup.NewHasher("sha256"), repo, log)

	o := New(mailer, fixedDetector{}, &fixedClassifier{categories: categories}, guard, proc,
		Options{MaxConcurrency: 2, MarkRead: true}, log)

	return &harness{orchestrator: o, mailer: mailer, completer: completer, store: store, repo: repo}
}

func TestRunConcertEndToEnd(t *testing.T) {
	msg := mail.Message{
		ID:       "<concert-1@example.com>",
		ThreadID: "<concert-1@example.com>",
		Subject:  "Taylor Swift presale",
		Sender:   "venue@example.com",
		Body:     "<p>Taylor Swift at MSG, July 1 2024, 8 PM. Tickets at https://t.example/ts</p>",
	}
	h := buildHarness(t, map[string]string{msg.ID: classify.CategoryConcert}, msg)
	h.completer.answers["single JSON object"] = `{"event_name":"Taylor Swift","date_time":"2024-07-01T20:00:00Z","venue_address":"Madison Square Garden","presale_info":"Code S24","ticket_link":"https://t.example/ts","additional_notes":""}`
	h.completer.answers["summary of a concert announcement"] = "Taylor Swift plays MSG July 1."

	summary, err := h.orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 1, Processed: 1}, summary)

	require.Len(t, h.mailer.sent, 1)
	require.Len(t, h.mailer.sent[0].Attachments, 1)
	ics := string(h.mailer.sent[0].Attachments[0].Content)
	assert.Contains(t, ics, "DTSTART:20240701T200000Z")
	assert.Contains(t, ics, "DTEND:20240701T230000Z")

	select {
	case <-h.store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred notes insert never ran")
	}
	require.Len(t, h.store.inserts, 1)
	assert.Equal(t, "Taylor Swift", h.store.inserts[0].EventName)

	assert.Contains(t, h.mailer.read, msg.ID)
	assert.Len(t, h.repo.seen, 1)
}

func TestRunSkipsSeenMessageWithoutModelCalls(t *testing.T) {
	msg := mail.Message{
		ID:       "<dup-1@example.com>",
		ThreadID: "<dup-1@example.com>",
		Subject:  "Opportunity",
		Body:     "recruiter text",
	}
	h := buildHarness(t, map[string]string{msg.ID: classify.CategoryRecruiter}, msg)

	fp := dedup.NewHasher("sha256").Fingerprint(msg.ID, msg.ThreadID)
	require.NoError(t, h.repo.Mark(context.Background(), fp, time.Now()))

	summary, err := h.orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 1, Duplicates: 1}, summary)

	assert.Zero(t, h.completer.calls)
	assert.Empty(t, h.mailer.drafts)
	assert.Empty(t, h.mailer.sent)
	assert.Empty(t, h.mailer.read)
}

func TestRunContinuesAfterRecruiterFailure(t *testing.T) {
	broken := mail.Message{
		ID:       "<rec-1@example.com>",
		ThreadID: "<rec-1@example.com>",
		Subject:  "Opportunity at Initech",
		Body:     "recruiter text",
	}
	fine := mail.Message{
		ID:       "<tx-1@example.com>",
		ThreadID: "<tx-1@example.com>",
		Subject:  "Your order shipped",
		Body:     "shipping notice",
	}
	h := buildHarness(t, map[string]string{
		broken.ID: classify.CategoryRecruiter,
		fine.ID:   classify.CategoryTransactional,
	}, broken, fine)
	h.completer.errs["name|company|role"] = errors.New("model down")

	summary, err := h.orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 2, Processed: 1, Failed: 1}, summary)

	assert.Empty(t, h.mailer.drafts)
	assert.Equal(t, []string{"Transactional"}, h.mailer.labels[fine.ID])

	// The failed message stays unrecorded so the next run retries it.
	fp := dedup.NewHasher("sha256").Fingerprint(broken.ID, broken.ThreadID)
	seen, err := h.repo.Seen(context.Background(), fp)
	require.NoError(t, err)
	assert.False(t, seen)
}

type captureClassifier struct {
	mu       sync.Mutex
	body     string
	language string
	category string
}

func (c *captureClassifier) Classify(_ context.Context, _ mail.Message, body, language string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
	c.language = language
	return c.category, nil
}

type captureProcessor struct {
	mu   sync.Mutex
	ctxs []*pipeline.Context
}

func (p *captureProcessor) Process(_ context.Context, pctx *pipeline.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctxs = append(p.ctxs, pctx)
	return nil
}

type countingDetector struct{ calls int }

func (d *countingDetector) Detect(string) string {
	d.calls++
	return "en"
}

type fixedImageReader struct{ text string }

func (f fixedImageReader) Text(context.Context, []mail.Attachment) string { return f.text }

func TestRunSupplementsBodyWithImageText(t *testing.T) {
	msg := mail.Message{
		ID:           "<flyer-1@example.com>",
		ThreadID:     "<flyer-1@example.com>",
		Subject:      "Show announcement",
		Body:         "see the attached flyer",
		InlineImages: []mail.Attachment{{ContentType: "image/png", Content: []byte("png")}},
	}
	classifier := &captureClassifier{category: classify.CategoryOther}
	guard := dedup.NewGuard(dedup.NewHasher("sha256"), newMemoryRepository(), logger.NopLogger())

	o := New(newFakeMailClient(msg), &countingDetector{}, classifier, guard, &captureProcessor{},
		Options{Images: fixedImageReader{text: "Doors at 7 PM\nPresale code S24"}}, logger.NopLogger())

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, classifier.body, "see the attached flyer")
	assert.Contains(t, classifier.body, "[Image OCR Text]")
	assert.Contains(t, classifier.body, "Doors at 7 PM")
}

func TestRunForcedLanguageSkipsDetection(t *testing.T) {
	msg := mail.Message{ID: "<l1@example.com>", ThreadID: "<l1@example.com>", Body: "hallo"}
	classifier := &captureClassifier{category: classify.CategoryOther}
	detector := &countingDetector{}
	guard := dedup.NewGuard(dedup.NewHasher("sha256"), newMemoryRepository(), logger.NopLogger())

	o := New(newFakeMailClient(msg), detector, classifier, guard, &captureProcessor{},
		Options{Language: "de"}, logger.NopLogger())

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "de", classifier.language)
	assert.Zero(t, detector.calls)
}

func TestRunTagsContextWithEnv(t *testing.T) {
	msg := mail.Message{ID: "<e1@example.com>", ThreadID: "<e1@example.com>", Body: "shipping notice"}
	classifier := &captureClassifier{category: classify.CategoryTransactional}
	processor := &captureProcessor{}
	guard := dedup.NewGuard(dedup.NewHasher("sha256"), newMemoryRepository(), logger.NopLogger())

	o := New(newFakeMailClient(msg), &countingDetector{}, classifier, guard, processor,
		Options{Env: "production", Language: "en"}, logger.NopLogger())

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, processor.ctxs, 1)
	assert.Equal(t, "production", processor.ctxs[0].Env)
	assert.Equal(t, "en", processor.ctxs[0].Language)
}

func TestRunLeavesUnmatchedMailUntouched(t *testing.T) {
	msg := mail.Message{
		ID:       "<misc-1@example.com>",
		ThreadID: "<misc-1@example.com>",
		Subject:  "Hi",
		Body:     "just saying hi",
	}
	h := buildHarness(t, map[string]string{}, msg)

	summary, err := h.orchestrator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 1, Unmatched: 1}, summary)
	assert.Empty(t, h.mailer.read)
	assert.Empty(t, h.repo.seen)
}
