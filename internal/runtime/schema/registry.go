package schema

import (
	"context"
	"fmt"
	"sync"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
)

// Registry stores schema documents per subject.
type Registry interface {
	// Register compiles source and stores it as the next version of subject.
	// Registering the latest source again returns the existing version.
	Register(ctx context.Context, subject, source string) (*Document, error)
	// Latest returns the newest version of subject.
	Latest(ctx context.Context, subject string) (*Document, error)
}

// ValueSubject returns the subject payloads of topic are registered under.
func ValueSubject(topic string) string {
	return topic + "-value"
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	subjects map[string][]*Document
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{subjects: make(map[string][]*Document)}
}

func (r *MemoryRegistry) Register(ctx context.Context, subject, source string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, fmt.Errorf("schema: subject is required")
	}

	doc, err := Compile(subject, source)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.subjects[subject]
	if n := len(versions); n > 0 && versions[n-1].source == source {
		return versions[n-1], nil
	}
	doc.version = len(versions) + 1
	r.subjects[subject] = append(versions, doc)
	return doc, nil
}

func (r *MemoryRegistry) Latest(ctx context.Context, subject string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.subjects[subject]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrSchemaNotFound, subject)
	}
	return versions[len(versions)-1], nil
}
