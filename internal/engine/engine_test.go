package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"subtrans/internal/config"
	"subtrans/internal/grouper"
	"subtrans/internal/llm"
	"subtrans/internal/progress"
	"subtrans/internal/subtitle"
	"subtrans/internal/translator"
)

type fakeProvider struct {
	name     string
	fn       func(req translator.Request) ([]translator.Result, error)
	requests []translator.Request
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Translate(ctx context.Context, req translator.Request) ([]translator.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.requests = append(p.requests, req)
	return p.fn(req)
}

// echoTranslate fakes a translation by prefixing every unit.
func echoTranslate(req translator.Request) ([]translator.Result, error) {
	results := make([]translator.Result, len(req.Units))
	for i, u := range req.Units {
		results[i] = translator.Result{ID: u.ID, Text: "HU:" + u.Text}
	}
	return results, nil
}

type recordingSink struct {
	saves int
}

func (s *recordingSink) Save(rec *progress.Record) error {
	s.saves++
	return nil
}

type fakeMemory struct {
	entries map[string]string
	puts    int
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{entries: make(map[string]string)}
}

func (m *fakeMemory) key(fp, src string) string { return fp + "|" + src }

func (m *fakeMemory) Get(ctx context.Context, fp, src string) (string, bool, error) {
	v, ok := m.entries[m.key(fp, src)]
	return v, ok, nil
}

func (m *fakeMemory) Put(ctx context.Context, fp, src, translated, model string) error {
	m.entries[m.key(fp, src)] = translated
	m.puts++
	return nil
}

func testGroups(t *testing.T, texts ...string) (*subtitle.Document, []*grouper.Group) {
	t.Helper()
	doc := &subtitle.Document{}
	for i, text := range texts {
		doc.Entries = append(doc.Entries, subtitle.Entry{
			Index:     i + 1,
			StartTime: time.Duration(i) * 2 * time.Second,
			EndTime:   time.Duration(i)*2*time.Second + time.Second,
			Text:      text,
		})
	}
	groups := grouper.Build(doc, grouper.Options{Enabled: true, ContinuityGap: time.Second})
	require.Len(t, groups, len(texts), "each sentence should form its own group")
	return doc, groups
}

func testConfig(mode string) config.TranslateConfig {
	return config.TranslateConfig{
		TargetLanguage:    language.Hungarian,
		Mode:              mode,
		BatchSize:         2,
		OverlapSize:       1,
		RetryCount:        2,
		WholeFileMaxUnits: 10,
	}
}

func TestRunTranslatesAllUnits(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}
	sink := &recordingSink{}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	stats, err := eng.Run(context.Background(), groups, language.English, rec, sink)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Units)
	assert.Equal(t, 3, stats.Translated)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, progress.StateCompleted, rec.State)
	assert.Greater(t, sink.saves, 0)

	for i, e := range doc.Entries {
		assert.Equal(t, "HU:"+e.Text, doc.Entries[i].TranslatedText)
	}
}

func TestRunResumeSkipsCompletedUnits(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	rec := progress.NewRecord("hash", "fp")
	rec.Completed[0] = "Kész egy."
	rec.Failed = []int{2}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Resumed)
	assert.Equal(t, 1, stats.Translated)
	assert.Equal(t, 1, stats.Failed)

	assert.Equal(t, "Kész egy.", doc.Entries[0].TranslatedText)
	assert.Equal(t, "HU:Two.", doc.Entries[1].TranslatedText)
	assert.True(t, doc.Entries[2].Failed)

	// The provider only ever saw the one pending unit.
	require.Len(t, provider.requests, 1)
	require.Len(t, provider.requests[0].Units, 1)
	assert.Equal(t, "Two.", provider.requests[0].Units[0].Text)
}

func TestRunFallsBackToSecondProvider(t *testing.T) {
	doc, groups := testGroups(t, "One.")
	broken := &fakeProvider{name: "broken", fn: func(req translator.Request) ([]translator.Result, error) {
		return nil, &translator.ProviderError{Provider: "broken", Reason: "API call failed"}
	}}
	backup := &fakeProvider{name: "backup", fn: echoTranslate}

	eng, err := New([]translator.Provider{broken, backup}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	stats, err := eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Translated)
	assert.Equal(t, "HU:One.", doc.Entries[0].TranslatedText)
	assert.Len(t, broken.requests, 1)
	assert.Len(t, backup.requests, 1)
}

func TestRunExhaustedRetriesMarksUnitFailed(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.")
	provider := &fakeProvider{name: "broken", fn: func(req translator.Request) ([]translator.Result, error) {
		return nil, fmt.Errorf("permanently down")
	}}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	stats, err := eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err, "unit failures must not abort the run")

	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 0, stats.Translated)
	assert.True(t, doc.Entries[0].Failed)
	assert.True(t, doc.Entries[1].Failed)
	assert.ElementsMatch(t, []int{0, 1}, rec.Failed)
	assert.Equal(t, progress.StateCompleted, rec.State)
}

func TestRunPartialFailureKeepsGoing(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.")
	provider := &fakeProvider{name: "flaky", fn: func(req translator.Request) ([]translator.Result, error) {
		for _, u := range req.Units {
			if u.Text == "One." {
				return nil, fmt.Errorf("refuses this text")
			}
		}
		return echoTranslate(req)
	}}

	cfg := testConfig(config.ModeBatch)
	cfg.OverlapSize = 0
	eng, err := New([]translator.Provider{provider}, cfg, "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	stats, err := eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Translated)
	assert.True(t, doc.Entries[0].Failed)
	assert.Equal(t, "HU:Two.", doc.Entries[1].TranslatedText)
}

func TestRunUsesTranslationMemory(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}
	memory := newFakeMemory()
	memory.entries[memory.key("fp", "One.")] = "Memóriából."

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeBatch), "fp", memory)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	stats, err := eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FromMemory)
	assert.Equal(t, 1, stats.Translated)
	assert.Equal(t, "Memóriából.", doc.Entries[0].TranslatedText)

	// The fresh translation was written back to the memory.
	got, ok, _ := memory.Get(context.Background(), "fp", "Two.")
	assert.True(t, ok)
	assert.Equal(t, "HU:Two.", got)
}

func TestRunLineByLineSendsSingleUnits(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeLineByLine), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 3)
	for _, req := range provider.requests {
		assert.Len(t, req.Units, 1)
	}
}

func TestRunLineByLineCarriesContext(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeLineByLine), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 3)
	assert.Empty(t, provider.requests[0].Context)
	require.Len(t, provider.requests[1].Context, 1)
	assert.Equal(t, "One.", provider.requests[1].Context[0].Source)
	assert.Equal(t, "HU:One.", provider.requests[1].Context[0].Translated)
	require.Len(t, provider.requests[2].Context, 1)
	assert.Equal(t, "Two.", provider.requests[2].Context[0].Source)
}

func TestRunResumeSeedsContextFromRecord(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	rec := progress.NewRecord("hash", "fp")
	rec.Completed[0] = "Kész egy."

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeLineByLine), "fp", nil)
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	require.Len(t, provider.requests[0].Units, 1)
	require.Len(t, provider.requests[0].Context, 1)
	assert.Equal(t, "One.", provider.requests[0].Context[0].Source)
	assert.Equal(t, "Kész egy.", provider.requests[0].Context[0].Translated)
}

func TestRunWholeFileSendsEverythingAtOnce(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeWholeFile), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	assert.Len(t, provider.requests[0].Units, 3)
}

func TestRunWholeFileCeilingFallsBackToBatches(t *testing.T) {
	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("Sentence number %d.", i)
	}
	_, groups := testGroups(t, texts...)
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	cfg := testConfig(config.ModeWholeFile) // ceiling is 10
	eng, err := New([]translator.Provider{provider}, cfg, "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	assert.Greater(t, len(provider.requests), 1)
	for _, req := range provider.requests {
		assert.LessOrEqual(t, len(req.Units), cfg.BatchSize)
	}
}

func TestRunWholeFilePersistsOnceOnSuccess(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}
	sink := &recordingSink{}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeWholeFile), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, sink)
	require.NoError(t, err)

	assert.Equal(t, 1, sink.saves)
	assert.Equal(t, progress.StateCompleted, rec.State)
}

func TestRunWholeFileFailureLeavesNoPartialState(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.", "Three.")
	provider := &fakeProvider{name: "broken", fn: func(req translator.Request) ([]translator.Result, error) {
		return nil, fmt.Errorf("permanently down")
	}}
	sink := &recordingSink{}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeWholeFile), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	stats, err := eng.Run(context.Background(), groups, language.English, rec, sink)
	require.NoError(t, err)

	assert.Equal(t, 0, sink.saves, "a failed whole-file call has nothing to persist")
	assert.Equal(t, 3, stats.Failed)
	assert.True(t, doc.Entries[0].Failed)

	// Every attempt carried the full file; the call was never split.
	require.Len(t, provider.requests, 2)
	for _, req := range provider.requests {
		assert.Len(t, req.Units, 3)
	}
}

func TestRetryDelayOnlyWhenRateLimited(t *testing.T) {
	limited := &translator.ProviderError{
		Provider: "p", Reason: "API call failed",
		Err: &llm.StatusError{StatusCode: 429},
	}
	assert.Equal(t, time.Second, retryDelay(limited, 0))
	assert.Equal(t, 2*time.Second, retryDelay(limited, 1))

	serverErr := &translator.ProviderError{
		Provider: "p", Reason: "API call failed",
		Err: &llm.StatusError{StatusCode: 500},
	}
	assert.Zero(t, retryDelay(serverErr, 0))
	assert.Zero(t, retryDelay(fmt.Errorf("transport down"), 0))
}

func TestRunOverlapContext(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.", "Three.", "Four.")
	provider := &fakeProvider{name: "primary", fn: echoTranslate}

	cfg := testConfig(config.ModeBatch)
	cfg.OverlapReassess = false
	eng, err := New([]translator.Provider{provider}, cfg, "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 2)
	second := provider.requests[1]
	require.Len(t, second.Context, 1)
	assert.Equal(t, "Two.", second.Context[0].Source)
	assert.Equal(t, "HU:Two.", second.Context[0].Translated)
}

func TestRunOverlapReassessRetranslates(t *testing.T) {
	doc, groups := testGroups(t, "One.", "Two.", "Three.", "Four.")
	calls := 0
	provider := &fakeProvider{name: "primary", fn: func(req translator.Request) ([]translator.Result, error) {
		calls++
		results := make([]translator.Result, len(req.Units))
		for i, u := range req.Units {
			results[i] = translator.Result{ID: u.ID, Text: fmt.Sprintf("HU%d:%s", calls, u.Text)}
		}
		return results, nil
	}}

	cfg := testConfig(config.ModeBatch)
	cfg.OverlapReassess = true
	eng, err := New([]translator.Provider{provider}, cfg, "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	require.Len(t, provider.requests, 2)
	// The second call re-sent the last unit of the first batch.
	require.Len(t, provider.requests[1].Units, 3)
	assert.Equal(t, "Two.", provider.requests[1].Units[0].Text)
	// Its translation was overwritten by the second pass.
	assert.True(t, strings.HasPrefix(doc.Entries[1].TranslatedText, "HU2:"))
}

func TestRunCancellationStopsBetweenBatches(t *testing.T) {
	_, groups := testGroups(t, "One.", "Two.", "Three.", "Four.")

	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{name: "primary", fn: func(req translator.Request) ([]translator.Result, error) {
		cancel() // cancel after the first call lands
		return echoTranslate(req)
	}}

	eng, err := New([]translator.Provider{provider}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(ctx, groups, language.English, rec, &recordingSink{})
	require.ErrorIs(t, err, context.Canceled)

	// The first batch's work was recorded before the stop.
	assert.Len(t, rec.Completed, 2)
	assert.Equal(t, progress.StateInProgress, rec.State)
}

func TestRunResumeAfterInterruptTranslatesRemainderOnce(t *testing.T) {
	makeGroups := func() (*subtitle.Document, []*grouper.Group) {
		return testGroups(t, "One.", "Two.", "Three.", "Four.")
	}

	// First run: canceled after the first batch lands.
	_, groups := makeGroups()
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeProvider{name: "primary", fn: func(req translator.Request) ([]translator.Result, error) {
		cancel()
		return echoTranslate(req)
	}}
	eng, err := New([]translator.Provider{first}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	rec := progress.NewRecord("hash", "fp")
	_, err = eng.Run(ctx, groups, language.English, rec, &recordingSink{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, rec.Completed, 2)

	// Second run resumes from the same record and only sees the rest.
	doc, groups := makeGroups()
	second := &fakeProvider{name: "primary", fn: echoTranslate}
	eng, err = New([]translator.Provider{second}, testConfig(config.ModeBatch), "fp", nil)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background(), groups, language.English, rec, &recordingSink{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Resumed)
	assert.Equal(t, 2, stats.Translated)
	require.Len(t, second.requests, 1)
	var sent []string
	for _, u := range second.requests[0].Units {
		sent = append(sent, u.Text)
	}
	assert.Equal(t, []string{"Three.", "Four."}, sent)
	for _, e := range doc.Entries {
		assert.NotEmpty(t, e.TranslatedText)
	}
}

func TestNewRequiresProviders(t *testing.T) {
	_, err := New(nil, testConfig(config.ModeBatch), "fp", nil)
	require.Error(t, err)
}
