package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"story-workers/internal/common/logger"
	"story-workers/internal/common/observability"
	"story-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct {
	drafts []models.Draft
	err    error
}

func (f *fakeText) Generate(context.Context, models.GenerationRequest) ([]models.Draft, error) {
	return f.drafts, f.err
}

// fakeSpeech delays or fails per title.
type fakeSpeech struct {
	delays map[string]time.Duration
	fail   map[string]bool
	panics map[string]bool
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	for title, d := range f.delays {
		if strings.HasPrefix(text, title+".") {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	for title := range f.panics {
		if strings.HasPrefix(text, title+".") {
			panic("speech engine crashed")
		}
	}
	for title := range f.fail {
		if strings.HasPrefix(text, title+".") {
			return nil, errors.New("speech unavailable")
		}
	}
	return []byte(text), nil
}

func (f *fakeSpeech) ContentType() string { return "audio/mpeg" }

func (f *fakeSpeech) Extension() string { return "mp3" }

type fakeSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeSaver) Save(_ context.Context, _ []byte, title, ext, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, title)
	return "https://store/" + title + "." + ext, nil
}

func threeDrafts() []models.Draft {
	return []models.Draft{
		{Title: "A", Summary: "first"},
		{Title: "B", Summary: "second"},
		{Title: "C", Summary: "third"},
	}
}

func newTestOrchestrator(t *testing.T, text TextGenerator, speech *fakeSpeech, saver ArtifactSaver, cfg Config) *Orchestrator {
	return New(text, speech, saver, cfg, observability.NewNoop(), logger.NewTestLogger(t))
}

func TestRun_PreservesDraftOrder(t *testing.T) {
	speech := &fakeSpeech{delays: map[string]time.Duration{"B": 50 * time.Millisecond}}
	saver := &fakeSaver{}
	o := newTestOrchestrator(t, &fakeText{drafts: threeDrafts()}, speech, saver, Config{})

	candidates, err := o.Run(context.Background(), models.GenerationRequest{DraftCount: 3, Voice: "female"})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	for i, want := range []string{"A", "B", "C"} {
		assert.Equal(t, want, candidates[i].Draft.Title)
		assert.Equal(t, models.AudioSucceeded, candidates[i].Audio.Status)
		require.NotNil(t, candidates[i].Audio.URL)
		assert.Equal(t, "https://store/"+want+".mp3", *candidates[i].Audio.URL)
	}
	// B finished last.
	assert.Equal(t, "B", saver.saved[2])
}

func TestRun_AudioFailuresAreIsolated(t *testing.T) {
	speech := &fakeSpeech{
		fail:   map[string]bool{"A": true},
		panics: map[string]bool{"C": true},
	}
	o := newTestOrchestrator(t, &fakeText{drafts: threeDrafts()}, speech, &fakeSaver{}, Config{})

	candidates, err := o.Run(context.Background(), models.GenerationRequest{DraftCount: 3})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, models.AudioFailed, candidates[0].Audio.Status)
	assert.Nil(t, candidates[0].Audio.URL)
	assert.Equal(t, models.AudioSucceeded, candidates[1].Audio.Status)
	assert.Equal(t, models.AudioFailed, candidates[2].Audio.Status)
	assert.Nil(t, candidates[2].Audio.URL)
}

func TestRun_AllUploadsFail(t *testing.T) {
	saver := &fakeSaver{err: errors.New("bucket gone")}
	o := newTestOrchestrator(t, &fakeText{drafts: threeDrafts()}, &fakeSpeech{}, saver, Config{MaxConcurrency: 2})

	candidates, err := o.Run(context.Background(), models.GenerationRequest{DraftCount: 3})
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	for _, c := range candidates {
		assert.Equal(t, models.AudioFailed, c.Audio.Status)
		assert.Nil(t, c.Audio.URL)
		assert.NotEmpty(t, c.Draft.Summary)
	}
}

// countingSpeech records the peak number of concurrent Synthesize calls.
type countingSpeech struct {
	fakeSpeech
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (c *countingSpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return c.fakeSpeech.Synthesize(ctx, text, voice)
}

func TestRun_MaxConcurrencyCapsNarration(t *testing.T) {
	drafts := make([]models.Draft, 6)
	for i := range drafts {
		drafts[i] = models.Draft{Title: string(rune('A' + i)), Summary: "calm"}
	}
	speech := &countingSpeech{}
	o := New(&fakeText{drafts: drafts}, speech, &fakeSaver{}, Config{MaxConcurrency: 2},
		observability.NewNoop(), logger.NewTestLogger(t))

	candidates, err := o.Run(context.Background(), models.GenerationRequest{DraftCount: 2})
	require.NoError(t, err)
	require.Len(t, candidates, 6)
	assert.LessOrEqual(t, speech.peak, 2)
	for _, c := range candidates {
		assert.Equal(t, models.AudioSucceeded, c.Audio.Status)
	}
}

func TestRun_SynthesisTimeout(t *testing.T) {
	speech := &fakeSpeech{delays: map[string]time.Duration{"A": time.Second}}
	drafts := []models.Draft{{Title: "A", Summary: "slow"}}
	o := newTestOrchestrator(t, &fakeText{drafts: drafts}, speech, &fakeSaver{}, Config{SynthesisTimeout: 20 * time.Millisecond})

	candidates, err := o.Run(context.Background(), models.GenerationRequest{DraftCount: 1})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, models.AudioFailed, candidates[0].Audio.Status)
}

func TestRun_TextErrorPropagates(t *testing.T) {
	textErr := errors.New("MALFORMED_OUTPUT")
	saver := &fakeSaver{}
	o := newTestOrchestrator(t, &fakeText{err: textErr}, &fakeSpeech{}, saver, Config{})

	candidates, err := o.Run(context.Background(), models.GenerationRequest{DraftCount: 2})
	assert.ErrorIs(t, err, textErr)
	assert.Nil(t, candidates)
	assert.Empty(t, saver.saved)
}
