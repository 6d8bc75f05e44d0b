package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/woolane/journey/pkg/models"
	"github.com/woolane/journey/pkg/persistence"
)

// MockAutomationRepository is a mock implementation of
// persistence.AutomationRepository.
type MockAutomationRepository struct {
	mock.Mock
}

func (m *MockAutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	args := m.Called(ctx, automation)

	return args.Error(0)
}

func (m *MockAutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Automation), args.Error(1)
}

func (m *MockAutomationRepository) All(ctx context.Context) ([]*models.Automation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Automation), args.Error(1)
}

func (m *MockAutomationRepository) ActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.Automation, error) {
	args := m.Called(ctx, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Automation), args.Error(1)
}

func (m *MockAutomationRepository) SetActive(ctx context.Context, id string, active bool) error {
	args := m.Called(ctx, id, active)

	return args.Error(0)
}

// MockEnrollmentRepository is a mock implementation of
// persistence.EnrollmentRepository.
type MockEnrollmentRepository struct {
	mock.Mock
}

func (m *MockEnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	args := m.Called(ctx, enrollment)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) ClaimDue(ctx context.Context, now time.Time, batchSize int, claimedBy string, leaseFor time.Duration) ([]*models.Enrollment, error) {
	args := m.Called(ctx, now, batchSize, claimedBy, leaseFor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) CommitAdvance(ctx context.Context, enrollmentID, lockToken string, change models.StateChange) error {
	args := m.Called(ctx, enrollmentID, lockToken, change)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) ReleaseExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)

	return args.Int(0), args.Error(1)
}

func (m *MockEnrollmentRepository) HasEnrollmentForEvent(ctx context.Context, automationID, eventID string) (bool, error) {
	args := m.Called(ctx, automationID, eventID)

	return args.Bool(0), args.Error(1)
}

func (m *MockEnrollmentRepository) HasAnyEnrollment(ctx context.Context, automationID, identity string) (bool, error) {
	args := m.Called(ctx, automationID, identity)

	return args.Bool(0), args.Error(1)
}

func (m *MockEnrollmentRepository) ExitAll(ctx context.Context, automationID string) (int, error) {
	args := m.Called(ctx, automationID)

	return args.Int(0), args.Error(1)
}

func (m *MockEnrollmentRepository) CountByStatus(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int64, error) {
	args := m.Called(ctx, automationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[models.EnrollmentStatus]int64), args.Error(1)
}

func (m *MockEnrollmentRepository) ListByAutomation(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error) {
	args := m.Called(ctx, automationID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence
// bundling mock repositories.
type MockPersistence struct {
	mock.Mock

	automationRepo *MockAutomationRepository
	enrollmentRepo *MockEnrollmentRepository
}

// NewMockPersistence creates a MockPersistence with fresh repository
// mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		automationRepo: &MockAutomationRepository{},
		enrollmentRepo: &MockEnrollmentRepository{},
	}
}

func (m *MockPersistence) AutomationRepository() persistence.AutomationRepository {
	return m.automationRepo
}

func (m *MockPersistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return m.enrollmentRepo
}

// AutomationRepo exposes the typed mock for expectation setup.
func (m *MockPersistence) AutomationRepo() *MockAutomationRepository {
	return m.automationRepo
}

// EnrollmentRepo exposes the typed mock for expectation setup.
func (m *MockPersistence) EnrollmentRepo() *MockEnrollmentRepository {
	return m.enrollmentRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
