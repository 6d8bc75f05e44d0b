// Package file provides file-based persistence for automations and
// enrollments, used for local development and tests.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/woolane/journey/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
// A single process-wide mutex stands in for the row-level locking a
// database store gets from transactions; claims and commits are
// atomic with respect to each other within one process.
type Persistence struct {
	root           string
	mu             sync.Mutex
	automationRepo *AutomationRepository
	enrollmentRepo *EnrollmentRepository
}

// NewPersistence creates a file persistence rooted at the given
// directory. A "file://" prefix is stripped for URL-style config.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.automationRepo = &AutomationRepository{root: cleanRoot, mu: &p.mu}
	p.enrollmentRepo = &EnrollmentRepository{root: cleanRoot, mu: &p.mu}

	return p
}

func (p *Persistence) AutomationRepository() persistence.AutomationRepository {
	return p.automationRepo
}

func (p *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return p.enrollmentRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
