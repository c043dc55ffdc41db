package pipeline

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
	"mailmaestro/internal/logger"
	"mailmaestro/internal/mail"
	"mailmaestro/internal/notes"
	"mailmaestro/internal/prompt"
	"mailmaestro/internal/schedule"
)

// scriptedCompleter answers prompts by substring match and counts calls.
type scriptedCompleter struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []string
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		answers: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (s *scriptedCompleter) on(substr, answer string)      { s.answers[substr] = answer }
func (s *scriptedCompleter) fail(substr string, err error) { s.errs[substr] = err }

func (s *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, prompt)
	for substr, err := range s.errs {
		if strings.Contains(prompt, substr) {
			return "", err
		}
	}
	for substr, answer := range s.answers {
		if strings.Contains(prompt, substr) {
			return answer, nil
		}
	}
	return "", errors.New("no scripted answer for prompt")
}

func (s *scriptedCompleter) callCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

type fakeMailClient struct {
	mu      sync.Mutex
	drafts  []mail.Draft
	sent    []mail.OutgoingMessage
	labels  map[string][]string
	read    []string
	sendErr error
}

func newFakeMailClient() *fakeMailClient {
	return &fakeMailClient{labels: make(map[string][]string)}
}

func (f *fakeMailClient) FetchUnread(context.Context) ([]mail.Message, error) { return nil, nil }

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
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailClient) Close() error { return nil }

type fakeNotesStore struct {
	mu      sync.Mutex
	inserts []notes.ConcertRecord
	done    chan struct{}
}

func newFakeNotesStore() *fakeNotesStore {
	return &fakeNotesStore{done: make(chan struct{}, 8)}
}

func (f *fakeNotesStore) Insert(_ context.Context, _ string, r notes.ConcertRecord) error {
	f.mu.Lock()
	f.inserts = append(f.inserts, r)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Recruiter:     config.RecruiterConfig{NotifyAddress: "me@example.com"},
		Concert:       config.ConcertConfig{InviteRecipient: "me@example.com", NotesDeferSeconds: 0},
		Transactional: config.TransactionalConfig{Label: "Transactional"},
	}
}

func buildTestPipeline(t *testing.T, completer *scriptedCompleter, mailer *fakeMailClient, store *fakeNotesStore) (*Pipeline, *schedule.Scheduler) {
	t.Helper()
	registry, err := prompt.NewRegistry()
	require.NoError(t, err)

	log := logger.NopLogger()
	sched := schedule.NewScheduler(log)
	t.Cleanup(sched.Stop)

	extractor := NewExtractor(completer, registry, log)
	validator := NewValidator(extractor, log)
	composer := NewComposer(completer, registry, log)
	dispatcher := NewDispatcher(mailer, sched, store, testPipelineConfig(), config.NotesConfig{CollectionID: "col-1"}, log)
	return New(extractor, validator, composer, dispatcher, log), sched
}

func recruiterContext(body string) *Context {
	return &Context{
		Message: mail.Message{
			ID:       "<r1@example.com>",
			ThreadID: "<thread-r1@example.com>",
			Subject:  "Opportunity at Initech",
			Sender:   "Sam Recruiter <sam@initech.example>",
		},
		Category: classify.CategoryRecruiter,
		Body:     body,
		Language: "en",
		Now:      time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestParseRecruiterAnswer(t *testing.T) {
	info, err := parseRecruiterAnswer("Sam Recruiter|Initech|Staff Engineer")
	require.NoError(t, err)
	assert.Equal(t, &RecruiterInfo{Name: "Sam Recruiter", Company: "Initech", Role: "Staff Engineer"}, info)

	_, err = parseRecruiterAnswer("just some prose about a job")
	require.Error(t, err)

	_, err = parseRecruiterAnswer("a|b|c|d")
	require.Error(t, err)
}

func TestParseConcertAnswerStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"event_name\":\"Taylor Swift\",\"date_time\":\"July 1, 2024\",\"venue_address\":\"MSG\",\"presale_info\":\"\",\"ticket_link\":\"\",\"additional_notes\":\"\"}\n```"
	details, err := parseConcertAnswer(raw)
	require.NoError(t, err)
	assert.Equal(t, "Taylor Swift", details.EventName)
	assert.Equal(t, "MSG", details.VenueAddress)

	_, err = parseConcertAnswer("not json at all")
	require.Error(t, err)
}

func TestRecruiterFlowCreatesDraft(t *testing.T) {
	completer := newScriptedCompleter()
	completer.on("name|company|role", "Sam Recruiter|Initech|Staff Engineer")
	completer.on("Original subject:", "Hi Sam, thanks for reaching out.")

	mailer := newFakeMailClient()
	p, _ := buildTestPipeline(t, completer, mailer, newFakeNotesStore())

	pctx := recruiterContext("We have a Staff Engineer opening at Initech.")
	require.NoError(t, p.Process(context.Background(), pctx))

	require.Len(t, mailer.drafts, 1)
	d := mailer.drafts[0]
	assert.Equal(t, "me@example.com", d.To)
	assert.Equal(t, "Recruiter: Initech", d.Subject)
	assert.Equal(t, "Hi Sam, thanks for reaching out.", d.Body)
	assert.Equal(t, "<thread-r1@example.com>", d.InReplyTo)
}

func TestRecruiterExtractionFailureIsHard(t *testing.T) {
	completer := newScriptedCompleter()
	completer.fail("name|company|role", errors.New("model unavailable"))

	mailer := newFakeMailClient()
	p, _ := buildTestPipeline(t, completer, mailer, newFakeNotesStore())

	err := p.Process(context.Background(), recruiterContext("recruiter text"))
	require.Error(t, err)
	assert.Empty(t, mailer.drafts)
}

func TestValidatorBackfillsExactlyOnce(t *testing.T) {
	// First extraction misses ticket_link and additional_notes; the retry
	// returns them but also tries to change event_name, which must not stick.
	responses := []string{
		`{"event_name":"Taylor Swift","date_time":"2024-07-01T20:00:00Z","venue_address":"MSG, NYC","presale_info":"Code S24","ticket_link":"","additional_notes":""}`,
		`{"event_name":"DIFFERENT","date_time":"2024-07-01T20:00:00Z","venue_address":"elsewhere","presale_info":"x","ticket_link":"https://t.example/ts","additional_notes":"Doors at 7"}`,
	}
	calls := 0
	extractorCompleter := completerFunc(func(_ context.Context, _ string) (string, error) {
		r := responses[calls%len(responses)]
		calls++
		return r, nil
	})

	registry, err := prompt.NewRegistry()
	require.NoError(t, err)
	log := logger.NopLogger()
	extractor := NewExtractor(extractorCompleter, registry, log)
	validator := NewValidator(extractor, log)

	pctx := &Context{
		Message:  mail.Message{ID: "<c1@example.com>", Sender: "venue@example.com"},
		Category: classify.CategoryConcert,
		Body:     "Taylor Swift at MSG, July 1 2024",
		Language: "en",
		Now:      time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, extractor.Extract(context.Background(), pctx))
	validator.Validate(context.Background(), pctx)

	c := pctx.Concert
	assert.Equal(t, "Taylor Swift", c.EventName)
	assert.Equal(t, "MSG, NYC", c.VenueAddress)
	assert.Equal(t, "Code S24", c.PresaleInfo)
	assert.Equal(t, "https://t.example/ts", c.TicketLink)
	assert.Equal(t, "Doors at 7", c.AdditionalNotes)
	// One original extraction plus exactly one backfill pass.
	assert.Equal(t, 2, calls)
}

func TestValidatorPassesThroughWhenRetryStillMissing(t *testing.T) {
	// Both extractions omit ticket_link and additional_notes. The record
	// must flow on with those fields empty, after exactly one retry.
	answer := `{"event_name":"Mystery Act","date_time":"2024-07-01T20:00:00Z","venue_address":"The Spot","presale_info":"p","ticket_link":"","additional_notes":""}`
	calls := 0
	extractorCompleter := completerFunc(func(_ context.Context, _ string) (string, error) {
		calls++
		return answer, nil
	})

	registry, err := prompt.NewRegistry()
	require.NoError(t, err)
	log := logger.NopLogger()
	extractor := NewExtractor(extractorCompleter, registry, log)
	validator := NewValidator(extractor, log)

	pctx := &Context{
		Message:  mail.Message{ID: "<c3@example.com>", Sender: "venue@example.com"},
		Category: classify.CategoryConcert,
		Body:     "Mystery Act plays The Spot",
		Language: "en",
		Now:      time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, extractor.Extract(context.Background(), pctx))
	validator.Validate(context.Background(), pctx)

	require.NotNil(t, pctx.Concert)
	assert.Equal(t, "Mystery Act", pctx.Concert.EventName)
	assert.Empty(t, pctx.Concert.TicketLink)
	assert.Empty(t, pctx.Concert.AdditionalNotes)
	assert.Equal(t, 2, calls)
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestConcertFlowSendsInviteAndSchedulesNotes(t *testing.T) {
	completer := newScriptedCompleter()
	extraction := `{"event_name":"Taylor Swift","date_time":"2024-07-01T20:00:00Z","venue_address":"Madison Square Garden","presale_info":"Code S24","ticket_link":"https://t.example/ts","additional_notes":"Doors at 7"}`
	completer.on("single JSON object", extraction)
	completer.on("summary of a concert announcement", "Taylor Swift plays MSG on July 1.")

	mailer := newFakeMailClient()
	store := newFakeNotesStore()
	p, _ := buildTestPipeline(t, completer, mailer, store)

	pctx := &Context{
		Message:  mail.Message{ID: "<c1@example.com>", ThreadID: "<c1@example.com>", Sender: "venue@example.com"},
		Category: classify.CategoryConcert,
		Body:     "Taylor Swift at MSG, July 1 2024",
		Language: "en",
		Now:      time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Process(context.Background(), pctx))

	require.Len(t, mailer.sent, 1)
	sent := mailer.sent[0]
	assert.Equal(t, "Concert: Taylor Swift", sent.Subject)
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "invite.ics", sent.Attachments[0].Filename)
	ics := string(sent.Attachments[0].Content)
	assert.Contains(t, ics, "DTSTART:20240701T200000Z")
	assert.Contains(t, ics, "DTEND:20240701T230000Z")

	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred notes insert never ran")
	}
	require.Len(t, store.inserts, 1)
	rec := store.inserts[0]
	assert.Equal(t, "Taylor Swift", rec.EventName)
	assert.True(t, rec.DateKnown)
	assert.Equal(t, "https://t.example/ts", rec.TicketLink)
}

func TestConcertUnparseableDateSkipsInviteNotNotes(t *testing.T) {
	completer := newScriptedCompleter()
	extraction := `{"event_name":"Mystery Act","date_time":"sometime soon","venue_address":"The Spot","presale_info":"p","ticket_link":"l","additional_notes":"n"}`
	completer.on("single JSON object", extraction)
	completer.on("summary of a concert announcement", "A mystery show.")

	mailer := newFakeMailClient()
	store := newFakeNotesStore()
	p, _ := buildTestPipeline(t, completer, mailer, store)

	pctx := &Context{
		Message:  mail.Message{ID: "<c2@example.com>", Sender: "venue@example.com"},
		Category: classify.CategoryConcert,
		Body:     "Mystery Act plays The Spot sometime soon",
		Language: "en",
		Now:      time.Now(),
	}
	require.NoError(t, p.Process(context.Background(), pctx))

	assert.Empty(t, mailer.sent)
	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred notes insert never ran")
	}
	require.Len(t, store.inserts, 1)
	assert.False(t, store.inserts[0].DateKnown)
}

func TestTransactionalFlowAppliesLabel(t *testing.T) {
	completer := newScriptedCompleter()
	mailer := newFakeMailClient()
	p, _ := buildTestPipeline(t, completer, mailer, newFakeNotesStore())

	pctx := &Context{
		Message:  mail.Message{ID: "<t1@example.com>"},
		Category: classify.CategoryTransactional,
		Body:     "Your order has shipped",
		Language: "en",
		Now:      time.Now(),
	}
	require.NoError(t, p.Process(context.Background(), pctx))
	assert.Equal(t, []string{"Transactional"}, mailer.labels["<t1@example.com>"])
}
