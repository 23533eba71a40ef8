package services

import (
	"context"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/formats"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

// fakeDriver records statements and returns canned results.
type fakeDriver struct {
	backend models.Backend

	mu       sync.Mutex
	calls    []string
	stmts    []models.Statement
	scalar   any
	affected int64
	table    *models.Table
	set      *models.DataSet
	err      error
}

func (d *fakeDriver) record(call string, stmt models.Statement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	d.stmts = append(d.stmts, stmt)
}

func (d *fakeDriver) ExecuteScalar(ctx context.Context, stmt models.Statement) (any, error) {
	d.record("scalar", stmt)
	return d.scalar, d.err
}

func (d *fakeDriver) ExecuteNonQuery(ctx context.Context, stmt models.Statement) (int64, error) {
	d.record("non-query", stmt)
	return d.affected, d.err
}

func (d *fakeDriver) FillTable(ctx context.Context, stmt models.Statement) (*models.Table, error) {
	d.record("table", stmt)
	if d.err != nil {
		return nil, d.err
	}
	return d.table.Clone(), nil
}

func (d *fakeDriver) FillSet(ctx context.Context, stmt models.Statement) (*models.DataSet, error) {
	d.record("set", stmt)
	if d.err != nil {
		return nil, d.err
	}
	return d.set.Clone(), nil
}

func (d *fakeDriver) Backend() models.Backend { return d.backend }
func (d *fakeDriver) Close() error            { return nil }

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDriver) lastStatement() models.Statement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stmts[len(d.stmts)-1]
}

// fakeFactory hands out one fakeDriver per backend.
type fakeFactory struct {
	drivers    map[models.Backend]*fakeDriver
	mu         sync.Mutex
	opened     int
	identities []datasource.Identity
	connStrs   []string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{drivers: map[models.Backend]*fakeDriver{
		models.BackendMSSQL:  {backend: models.BackendMSSQL},
		models.BackendOracle: {backend: models.BackendOracle},
	}}
}

func (f *fakeFactory) NewDriver(ctx context.Context, db *models.DatabaseSpecification, connString string, identity datasource.Identity) (datasource.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	f.identities = append(f.identities, identity)
	f.connStrs = append(f.connStrs, connString)
	return f.drivers[db.Backend], nil
}

func (f *fakeFactory) ListBackends() []datasource.DriverInfo { return nil }

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingMailer captures deliveries.
type recordingMailer struct {
	mu    sync.Mutex
	sent  []*formats.Document
	specs []*models.MailerSpecification
	err   error
	panic bool
}

func (m *recordingMailer) Send(ctx context.Context, spec *models.MailerSpecification, doc *formats.Document) error {
	if m.panic {
		panic("smtp exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, doc)
	m.specs = append(m.specs, spec)
	return m.err
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
