package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/medflow-pharmacy/pkg/database"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/shopspring/decimal"
)

// MockDB wraps sqlmock for repository unit tests
type MockDB struct {
	DB   *database.DB
	Raw  *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB creates a mock database whose queries are matched literally
// (regexp-quoted) against expectations.
//
// Usage:
//
//	mockDB := testutil.NewMockDB(t)
//	defer mockDB.Close()
//
//	mockDB.ExpectTenantBegin(tenantID)
//	mockDB.ExpectQuery("SELECT ...").WillReturnRows(...)
//	mockDB.ExpectCommit()
func NewMockDB(t *testing.T) *MockDB {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	raw := sqlx.NewDb(db, "postgres")
	return &MockDB{
		DB:   database.FromSQLX(raw, "public", logger.Nop()),
		Raw:  raw,
		Mock: mock,
	}
}

// Close closes the mock database connection
func (m *MockDB) Close() error {
	return m.Raw.Close()
}

// ExpectQuery sets up an expected query
func (m *MockDB) ExpectQuery(query string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(query))
}

// ExpectExec sets up an expected exec
func (m *MockDB) ExpectExec(query string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(query))
}

// ExpectCommit sets up an expected commit
func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit {
	return m.Mock.ExpectCommit()
}

// ExpectRollback sets up an expected rollback
func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback {
	return m.Mock.ExpectRollback()
}

// ExpectTenantBegin expects the transaction start issued by WithTenantRLS:
// BEGIN followed by the set_config call for search_path and tenant.
func (m *MockDB) ExpectTenantBegin(tenantID string) {
	m.Mock.ExpectBegin()
	m.Mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('search_path', $1, true), set_config('app.current_tenant', $2, true)")).
		WithArgs("public", tenantID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ExpectationsWereMet verifies all expectations were met
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows creates a new mock rows object
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// AnyTime is a matcher for any time.Time value
type AnyTime struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// AnyUUID is a matcher for any UUID string
type AnyUUID struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && uuidPattern.MatchString(s)
}

// DecimalArg matches a decimal bound as its string form.
type DecimalArg string

// Match satisfies the sqlmock.Argument interface
func (d DecimalArg) Match(v driver.Value) bool {
	want, err := decimal.NewFromString(string(d))
	if err != nil {
		return false
	}
	var got decimal.Decimal
	switch val := v.(type) {
	case string:
		got, err = decimal.NewFromString(val)
	case []byte:
		got, err = decimal.NewFromString(string(val))
	case float64:
		got = decimal.NewFromFloat(val)
	case int64:
		got = decimal.NewFromInt(val)
	default:
		return false
	}
	return err == nil && got.Equal(want)
}

// MockPublisher records published events for later verification
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
}

// PublishedEvent represents an event that was published
type PublishedEvent struct {
	Type      string
	MessageID string
	Payload   interface{}
}

// NewMockPublisher creates a new mock publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records an event
func (m *MockPublisher) Publish(ctx context.Context, eventType, messageID string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Type: eventType, MessageID: messageID, Payload: payload})
	return nil
}

// Events returns a copy of the recorded events
func (m *MockPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.PublishedEvents...)
}

// AssertEventPublished checks if an event of the given type was published
func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	for _, e := range m.Events() {
		if e.Type == eventType {
			return
		}
	}
	t.Errorf("expected event %q to be published, but it wasn't", eventType)
}

// AssertNoEventsPublished checks that no events were published
func (m *MockPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	if events := m.Events(); len(events) > 0 {
		t.Errorf("expected no events, but got %d: %+v", len(events), events)
	}
}
