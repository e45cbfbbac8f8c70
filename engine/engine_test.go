package engine

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"opsvantage/config"
)

var testDBCounter int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	n := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:enginetest%d?mode=memory&cache=shared&_busy_timeout=5000", n)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClock is a settable clock for exercising delay windows.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
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

// recordingMailer captures send jobs instead of delivering them. FailUntil
// makes the first N attempts fail to exercise retry paths.
type recordingMailer struct {
	mu        sync.Mutex
	jobs      []SendJob
	attempts  int
	failUntil int
}

func (m *recordingMailer) Send(job SendJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts <= m.failUntil {
		return "", fmt.Errorf("451 temporary failure")
	}
	m.jobs = append(m.jobs, job)
	return job.MessageID, nil
}

func (m *recordingMailer) Jobs() []SendJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendJob, len(m.jobs))
	copy(out, m.jobs)
	return out
}
