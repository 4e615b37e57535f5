package samples

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/imaging"
	"github.com/FairForge/samplehub/internal/storage"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (q *recordingQueue) Enqueue(ctx context.Context, sampleID int64) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.ids = append(q.ids, sampleID)
	return fmt.Sprintf("job-%d", sampleID), nil
}

func (q *recordingQueue) Enqueued() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.ids...)
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	router  *storage.Router
	temp    *drivers.MemoryDriver
	objects *drivers.MemoryDriver
	queue   *recordingQueue
	deriver *Deriver
}

func newHarness(t *testing.T, imageScheme string) *harness {
	t.Helper()

	root := t.TempDir()
	temp := drivers.NewMemoryDriver()
	objects := drivers.NewMemoryDriver()

	r := storage.NewRouter(zap.NewNop())
	storage.RegisterMemory(r, temp)
	r.Register(drivers.SchemeFile, drivers.KindFile, func(ctx context.Context) (drivers.Driver, error) {
		return drivers.NewLocalDriver(root, "http://localhost:8000", zap.NewNop()), nil
	})
	// stands in for a bucket; keyed by full locator like the temp store
	r.Register(drivers.SchemeS3, drivers.KindS3, func(ctx context.Context) (drivers.Driver, error) {
		return objects, nil
	})

	store := NewMemoryStore()
	deriver := NewDeriver(store, imaging.NewEngine(r, nil, zap.NewNop()), nil, zap.NewNop())
	queue := &recordingQueue{}
	svc, err := NewService(Config{
		Store:       store,
		Router:      r,
		Scheduler:   NewScheduler(r, deriver, queue, zap.NewNop()),
		ImageScheme: imageScheme,
	})
	require.NoError(t, err)

	_, err = store.CreateDataset(context.Background(), "mnist", map[string]any{"owner": "lab"})
	require.NoError(t, err)

	return &harness{
		svc:     svc,
		store:   store,
		router:  r,
		temp:    temp,
		objects: objects,
		queue:   queue,
		deriver: deriver,
	}
}

func (h *harness) put(t *testing.T, locator string, data []byte) {
	t.Helper()
	d, err := h.router.For(context.Background(), locator)
	require.NoError(t, err)
	require.NoError(t, d.Put(context.Background(), locator, bytes.NewReader(data)))
}

func (h *harness) exists(t *testing.T, locator string) bool {
	t.Helper()
	d, err := h.router.For(context.Background(), locator)
	require.NoError(t, err)
	ok, err := d.Exists(context.Background(), locator)
	require.NoError(t, err)
	return ok
}

func (h *harness) sample(t *testing.T, id int64) *Sample {
	t.Helper()
	s, err := h.store.FetchSample(context.Background(), id)
	require.NoError(t, err)
	return s
}

func register(info string) RegisterRequest {
	return RegisterRequest{Info: []byte(info)}
}

var errQueueDown = errors.New("connection refused")
