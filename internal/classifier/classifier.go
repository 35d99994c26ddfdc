package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/mantecinfox/smpp-gateway/internal/store"
)

// ServiceSource supplies the active detection services in priority order.
type ServiceSource interface {
	ListActiveServices(ctx context.Context) ([]store.Service, error)
}

// signature is one compiled detection pattern. The slice order of
// signatures is the classification priority.
type signature struct {
	serviceID int64
	name      string
	pattern   string
	re        *regexp.Regexp
}

// Match is the outcome of a confidence-ranked classification.
type Match struct {
	ServiceID  int64
	Name       string
	Confidence float64
}

// Classifier matches message text against an ordered set of regex-backed
// service signatures. Safe for concurrent use; Reload swaps the signature
// set without restarting callers.
type Classifier struct {
	source ServiceSource

	mu         sync.RWMutex
	signatures []signature
}

func New(source ServiceSource) *Classifier {
	return &Classifier{source: source}
}

// Load reads the active services and compiles their patterns
// case-insensitively. A pattern that fails to compile is logged and
// skipped; the remaining services still classify.
func (c *Classifier) Load(ctx context.Context) error {
	services, err := c.source.ListActiveServices(ctx)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}

	sigs := make([]signature, 0, len(services))
	for _, svc := range services {
		re, err := regexp.Compile("(?i)" + svc.RegexPattern)
		if err != nil {
			slog.WarnContext(ctx, "Skipping service with invalid regex pattern",
				slog.String("service", svc.Name),
				slog.Int64("service_id", svc.ID),
				slog.Any("error", err),
			)
			continue
		}
		sigs = append(sigs, signature{
			serviceID: svc.ID,
			name:      svc.Name,
			pattern:   svc.RegexPattern,
			re:        re,
		})
	}

	c.mu.Lock()
	c.signatures = sigs
	c.mu.Unlock()

	slog.InfoContext(ctx, "Classification services loaded", slog.Int("count", len(sigs)))
	return nil
}

// Reload re-reads the active service set. Dependent workers keep running;
// the next Classify call sees the new signatures.
func (c *Classifier) Reload(ctx context.Context) error {
	return c.Load(ctx)
}

// Classify returns the service whose match scores the strictly highest
// confidence. For a match of m characters starting s characters into text
// of n characters, confidence = (m/n) * (1 - s/n): longer matches earlier
// in the text score higher. Offsets and lengths count runes, not bytes, so
// accented text scores the same as its ASCII transliteration. Ties keep
// the earlier signature in priority order. Returns false with confidence 0
// when nothing matches or text is empty.
func (c *Classifier) Classify(text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := float64(utf8.RuneCountInString(text))
	var best Match
	found := false

	for _, sig := range c.signatures {
		loc := sig.re.FindStringIndex(text)
		if loc == nil {
			continue
		}

		m := float64(utf8.RuneCountInString(text[loc[0]:loc[1]]))
		s := float64(utf8.RuneCountInString(text[:loc[0]]))
		confidence := (m / n) * (1 - s/n)

		if !found || confidence > best.Confidence {
			best = Match{ServiceID: sig.serviceID, Name: sig.name, Confidence: confidence}
			found = true
		}
	}
	return best, found
}

// ClassifyFirst returns the first signature that matches, walking the same
// priority order Classify iterates. When a single service matches it agrees
// with Classify; when several match it prefers priority order over
// confidence. Callers that need the best-scoring match use Classify.
func (c *Classifier) ClassifyFirst(text string) (int64, bool) {
	if text == "" {
		return 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sig := range c.signatures {
		if sig.re.MatchString(text) {
			return sig.serviceID, true
		}
	}
	return 0, false
}
