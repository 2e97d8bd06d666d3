package service

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docspark/api/internal/model"
)

// InsightsGenerator produces the analysis payload for jobs that opted in.
type InsightsGenerator interface {
	Generate(ctx context.Context, job *model.Job) (*model.Insights, error)
}

// MockInsights builds a plausible payload from the file name alone; no
// document content is analysed.
type MockInsights struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewMockInsights() *MockInsights {
	return NewMockInsightsWith(rand.New(rand.NewSource(time.Now().UnixNano())), time.Now)
}

// NewMockInsightsWith uses the given random source and clock.
func NewMockInsightsWith(rng *rand.Rand, now func() time.Time) *MockInsights {
	return &MockInsights{rng: rng, now: now}
}

func (m *MockInsights) Generate(_ context.Context, job *model.Job) (*model.Insights, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := job.OriginalName
	title := name
	if ext := filepath.Ext(name); len(ext) > 1 {
		title = strings.TrimSuffix(name, ext)
	}

	return &model.Insights{
		Summary: fmt.Sprintf("This document \"%s\" contains structured content including text paragraphs, headings, and data fields. The layout is well-organized with clear sections.", name),
		KeyFields: []model.KeyField{
			{Label: "Document Title", Value: title},
			{Label: "Detected Date", Value: m.now().UTC().Format("2006-01-02")},
			{Label: "Estimated Word Count", Value: strconv.Itoa(m.rng.Intn(2000) + 200)},
		},
		RedactionHints: []model.RedactionHint{
			{Type: "email", Value: "example@redacted.com"},
			{Type: "phone", Value: "+1-555-XXX-XXXX"},
		},
		QualityScore: model.QualityScore{
			Layout:        m.rng.Intn(15) + 80,
			TextIntegrity: m.rng.Intn(10) + 88,
			Overall:       m.rng.Intn(12) + 85,
		},
	}, nil
}
