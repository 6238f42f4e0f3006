package inbox

import (
	"context"
	"sync"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// mockIntake is a mock implementation of driving.IntakeService that
// records submitted uploads.
type mockIntake struct {
	mu      sync.Mutex
	uploads []domain.Upload
	err     error
}

func (m *mockIntake) Submit(_ context.Context, upload domain.Upload) (*domain.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.uploads = append(m.uploads, upload)
	return &domain.DataSource{ID: "ds-1", Name: upload.DeclaredName}, nil
}

func (m *mockIntake) submitted() []domain.Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Upload(nil), m.uploads...)
}

func (m *mockIntake) Get(context.Context, string, string) (*domain.DataSource, error) {
	return nil, domain.ErrNotFound
}

func (m *mockIntake) List(context.Context, string, string) ([]domain.DataSource, error) {
	return nil, nil
}

func (m *mockIntake) Delete(context.Context, string, string) error {
	return nil
}

func (m *mockIntake) Reprocess(context.Context, string, string) (*domain.Job, error) {
	return nil, nil
}
