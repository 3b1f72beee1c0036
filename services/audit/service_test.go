package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/sensor-gateway/internal/observability"
	"github.com/upb/sensor-gateway/models"
	"go.uber.org/zap"
)

// MockSecurityEventRepository is a mock implementation of SecurityEventRepository
type MockSecurityEventRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.SecurityEvent
}

func (m *MockSecurityEventRepository) Insert(ctx context.Context, e *models.SecurityEvent) error {
	args := m.Called(ctx, e)
	m.mu.Lock()
	m.inserted = append(m.inserted, e)
	m.mu.Unlock()
	return args.Error(0)
}

func (m *MockSecurityEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	args := m.Called(ctx, limit)
	if events := args.Get(0); events != nil {
		return events.([]*models.SecurityEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSecurityEventRepository) Inserted() []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SecurityEvent(nil), m.inserted...)
}

func newEvent(reason string) *models.SecurityEvent {
	return models.NewSecurityEvent(models.EventAuthFailure, "10.0.0.1").
		WithRequest("GET", "/api/sensors", "corr-"+reason).
		WithOutcome(reason, 401)
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	// Cannot start again
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))

	// Cannot stop twice
	assert.Error(t, service.Stop(time.Second))
}

func TestAuditService_Record(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())

	service.Record(newEvent("token_expired"))
	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.Inserted()
	require.Len(t, inserted, 1)
	assert.Equal(t, "token_expired", inserted[0].Reason)
	assert.Equal(t, "corr-token_expired", inserted[0].CorrelationID)
}

func TestAuditService_QueueDepthGauge(t *testing.T) {
	inFlight := make(chan struct{}, 1)
	release := make(chan struct{})
	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		select {
		case inFlight <- struct{}{}:
		default:
		}
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 5, WorkerCount: 1})
	require.NoError(t, service.Start())

	service.Record(newEvent("first"))
	<-inFlight
	for i := 0; i < 3; i++ {
		service.Record(newEvent(fmt.Sprintf("queued%d", i)))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(observability.AuditQueueDepth))

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
	assert.Equal(t, 0.0, testutil.ToFloat64(observability.AuditQueueDepth))
	assert.Len(t, mockRepo.Inserted(), 4)
}

func TestAuditService_StopDrainsQueue(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	const eventCount = 50
	for i := 0; i < eventCount; i++ {
		service.Record(newEvent(fmt.Sprintf("r%d", i)))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.Inserted(), eventCount)
}

func TestAuditService_ConcurrentRecording(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 4})
	require.NoError(t, service.Start())

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				service.Record(newEvent("concurrent"))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.Inserted(), 200)
}

func TestAuditService_BufferFullDrops(t *testing.T) {
	release := make(chan struct{})
	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	before := testutil.ToFloat64(observability.AuditEventsDroppedTotal)
	for i := 0; i < 10; i++ {
		service.Record(newEvent("flood"))
	}
	dropped := testutil.ToFloat64(observability.AuditEventsDroppedTotal) - before

	// one in flight, two buffered
	assert.GreaterOrEqual(t, dropped, 7.0)
	assert.LessOrEqual(t, dropped, 8.0)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_RecordAfterStopIsDropped(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	before := testutil.ToFloat64(observability.AuditEventsDroppedTotal)
	assert.NotPanics(t, func() { service.Record(newEvent("late")) })
	assert.Equal(t, before+1, testutil.ToFloat64(observability.AuditEventsDroppedTotal))
}

func TestAuditService_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	service.Record(newEvent("slow"))

	err := service.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestAuditService_InsertErrorIsLogged(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(fmt.Errorf("db down"))

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	service.Record(newEvent("x"))
	require.NoError(t, service.Stop(5*time.Second))

	mockRepo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestAuditService_Recent(t *testing.T) {
	mockRepo := new(MockSecurityEventRepository)
	want := []*models.SecurityEvent{newEvent("a")}
	mockRepo.On("ListRecent", mock.Anything, 25).Return(want, nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())
	got, err := service.Recent(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 10000, config.BufferSize)
	assert.Equal(t, 2, config.WorkerCount)

	service := NewAuditService(new(MockSecurityEventRepository), zap.NewNop(), Config{})
	assert.Equal(t, config.BufferSize, service.bufferSize)
	assert.Equal(t, config.WorkerCount, service.workerCount)
}

func TestRingRepository(t *testing.T) {
	ctx := context.Background()
	ring := NewRingRepository(3, zap.NewNop())

	events, err := ring.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	for i := 0; i < 5; i++ {
		require.NoError(t, ring.Insert(ctx, newEvent(fmt.Sprintf("e%d", i))))
	}

	events, err = ring.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e4", events[0].Reason)
	assert.Equal(t, "e3", events[1].Reason)
	assert.Equal(t, "e2", events[2].Reason)

	events, err = ring.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e4", events[0].Reason)
}
