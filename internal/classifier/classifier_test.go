package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantecinfox/smpp-gateway/internal/store"
)

type staticSource struct {
	services []store.Service
	err      error
}

func (s *staticSource) ListActiveServices(_ context.Context) ([]store.Service, error) {
	return s.services, s.err
}

func newLoaded(t *testing.T, services ...store.Service) *Classifier {
	t.Helper()
	c := New(&staticSource{services: services})
	require.NoError(t, c.Load(context.Background()))
	return c
}

func TestClassify_ConfidenceFormula(t *testing.T) {
	c := newLoaded(t, store.Service{ID: 1, Name: "WhatsApp", RegexPattern: `WhatsApp`})

	text := "Seu codigo WhatsApp e 123456"
	match, ok := c.Classify(text)
	require.True(t, ok)
	assert.Equal(t, int64(1), match.ServiceID)

	// "WhatsApp" (8 chars) starts at offset 11 in a 28 char text.
	n := float64(len(text))
	want := (8.0 / n) * (1 - 11.0/n)
	assert.InDelta(t, want, match.Confidence, 1e-9)
}

func TestClassify_ConfidenceCountsRunes(t *testing.T) {
	c := newLoaded(t,
		store.Service{ID: 1, Name: "Accents", RegexPattern: `ééé`},
		store.Service{ID: 2, Name: "Plain", RegexPattern: `abcdefg`},
	)

	// 11 characters, but the accented prefix is 6 bytes. Byte offsets
	// would misplace the second match and flip the winner.
	match, ok := c.Classify("ééé abcdefg")
	require.True(t, ok)
	assert.Equal(t, int64(2), match.ServiceID)
	assert.InDelta(t, (7.0/11.0)*(1-4.0/11.0), match.Confidence, 1e-9)
}

func TestClassify_BestMatchWins(t *testing.T) {
	c := newLoaded(t,
		// Short match late in the text scores lower.
		store.Service{ID: 1, Name: "Code", RegexPattern: `123456`},
		// Longer match earlier wins despite lower priority.
		store.Service{ID: 2, Name: "Gmail", RegexPattern: `Gmail verification code`},
	)

	match, ok := c.Classify("Gmail verification code: 123456")
	require.True(t, ok)
	assert.Equal(t, int64(2), match.ServiceID)
}

func TestClassify_TieBrokenByPriorityOrder(t *testing.T) {
	// Both patterns produce the identical match span, so confidences tie.
	c := newLoaded(t,
		store.Service{ID: 7, Name: "First", RegexPattern: `codigo`},
		store.Service{ID: 8, Name: "Second", RegexPattern: `c[o]digo`},
	)

	match, ok := c.Classify("seu codigo chegou")
	require.True(t, ok)
	assert.Equal(t, int64(7), match.ServiceID)
}

func TestClassify_CaseInsensitive(t *testing.T) {
	c := newLoaded(t, store.Service{ID: 1, Name: "WhatsApp", RegexPattern: `whatsapp`})

	_, ok := c.Classify("Your WHATSAPP code is 42")
	assert.True(t, ok)
}

func TestClassify_NoMatchAndEmptyText(t *testing.T) {
	c := newLoaded(t, store.Service{ID: 1, Name: "WhatsApp", RegexPattern: `WhatsApp`})

	match, ok := c.Classify("unrelated text")
	assert.False(t, ok)
	assert.Zero(t, match.Confidence)

	_, ok = c.Classify("")
	assert.False(t, ok)
}

func TestLoad_SkipsInvalidPattern(t *testing.T) {
	c := newLoaded(t,
		store.Service{ID: 1, Name: "Broken", RegexPattern: `([invalid`},
		store.Service{ID: 2, Name: "Gmail", RegexPattern: `Gmail`},
	)

	match, ok := c.Classify("Gmail code 123")
	require.True(t, ok)
	assert.Equal(t, int64(2), match.ServiceID)
}

func TestClassifyFirst_PriorityOrder(t *testing.T) {
	c := newLoaded(t,
		store.Service{ID: 1, Name: "Generic", RegexPattern: `codigo`},
		store.Service{ID: 2, Name: "WhatsApp", RegexPattern: `WhatsApp`},
	)

	// Both match; first in priority order wins, even though WhatsApp
	// would score a higher confidence.
	id, ok := c.ClassifyFirst("codigo WhatsApp 123456")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = c.ClassifyFirst("")
	assert.False(t, ok)
}

func TestReload_SwapsSignatureSet(t *testing.T) {
	src := &staticSource{services: []store.Service{
		{ID: 1, Name: "WhatsApp", RegexPattern: `WhatsApp`},
	}}
	c := New(src)
	require.NoError(t, c.Load(context.Background()))

	_, ok := c.Classify("WhatsApp code")
	require.True(t, ok)

	src.services = []store.Service{{ID: 2, Name: "Gmail", RegexPattern: `Gmail`}}
	require.NoError(t, c.Reload(context.Background()))

	_, ok = c.Classify("WhatsApp code")
	assert.False(t, ok)
	match, ok := c.Classify("Gmail code")
	require.True(t, ok)
	assert.Equal(t, int64(2), match.ServiceID)
}
