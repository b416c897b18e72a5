package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/rollout/internal/api"
	"github.com/seantiz/rollout/internal/engine"
	"github.com/seantiz/rollout/internal/workunit"
	"github.com/seantiz/rollout/pkg/client"
	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

const (
	testExperiment = "exp-test"
	testBucket     = "rollouts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func fastPoll() client.PollConfig {
	return client.PollConfig{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         100 * time.Millisecond,
		Multiplier:          1.5,
		RandomizationFactor: 0.2,
	}
}

// producer is an in-process producer: executor, result writer and HTTP API.
type producer struct {
	URL    string
	Store  *objstore.MemoryStore
	Engine *engine.Engine
}

func startProducer(t *testing.T, fn any) *producer {
	t.Helper()
	s := objstore.NewMemoryStore()
	eng := engine.NewEngine(workunit.MustNew(fn), s, testLogger(), engine.Options{
		WriteInitialBackoff: time.Millisecond,
	})
	ts := httptest.NewServer(api.NewServer(":0", eng, testLogger()).Router())
	t.Cleanup(func() {
		ts.Close()
		eng.Wait()
	})
	return &producer{URL: ts.URL, Store: s, Engine: eng}
}

func newClient(t *testing.T, inv client.Invoker, s objstore.Store, mutate ...func(*client.Options)) *client.Client {
	t.Helper()
	opts := client.Options{
		ExperimentID: testExperiment,
		Bucket:       testBucket,
		TPS:          -1,
		Poll:         fastPoll(),
		Logger:       testLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := client.New(inv, s, opts)
	require.NoError(t, err)
	return c
}

func newProducerClient(t *testing.T, p *producer, mutate ...func(*client.Options)) *client.Client {
	t.Helper()
	inv := client.NewHTTPInvoker(p.URL, client.WithRetryBackoff(time.Millisecond))
	return newClient(t, inv, p.Store, mutate...)
}

// fakeInvoker acknowledges every invocation without running anything and
// records when each call arrived.
type fakeInvoker struct {
	mu     sync.Mutex
	calls  []time.Time
	bodies [][]byte
	ack    func(body []byte) (rollout.Ack, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, _ string, body []byte) (rollout.Ack, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	if f.ack != nil {
		return f.ack(body)
	}
	return rollout.Ack{Status: rollout.AckStatusProcessing}, nil
}

func (f *fakeInvoker) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}
