package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	result error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.result
}

// scripted returns the i-th step on the i-th call; the last step repeats.
type scripted struct {
	mu    sync.Mutex
	calls int
	steps []func() (task.Result, error)
}

func (s *scripted) Execute(ctx context.Context, def task.Definition) (task.Result, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i]()
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fail(msg string) func() (task.Result, error) {
	return func() (task.Result, error) { return task.Failed(msg), nil }
}

func raise(msg string) func() (task.Result, error) {
	return func() (task.Result, error) { return task.Result{}, errors.New(msg) }
}

func ok(summary string) func() (task.Result, error) {
	return func() (task.Result, error) { return task.Success(summary), nil }
}

var def = task.Definition{ID: "rss_watch", Title: "RSS", Enabled: true, Frequency: task.Hourly}

func policy(maxRetries int, backoff ...time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, Backoff: backoff}
}

func TestRetryExhaustion(t *testing.T) {
	rec := &sleepRecorder{}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	h := &scripted{steps: []func() (task.Result, error){fail("upstream 503")}}

	res := r.Run(context.Background(), def, h, policy(2, time.Second, 3*time.Second, 7*time.Second))

	assert.Equal(t, 3, h.Calls())
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, "upstream 503", res.Error)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, rec.waits)
}

func TestEarlySuccessStopsRetries(t *testing.T) {
	rec := &sleepRecorder{}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	h := &scripted{steps: []func() (task.Result, error){fail("flaky"), ok("done")}}

	res := r.Run(context.Background(), def, h, policy(2, time.Second, 3*time.Second, 7*time.Second))

	assert.Equal(t, 2, h.Calls())
	assert.Equal(t, task.StatusSuccess, res.Status)
	assert.Empty(t, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, rec.waits)
}

func TestSkippedIsNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	h := &scripted{steps: []func() (task.Result, error){func() (task.Result, error) {
		return task.Skipped("SERPER_API_KEY not set"), nil
	}}}

	res := r.Run(context.Background(), def, h, policy(5, time.Second))

	assert.Equal(t, 1, h.Calls())
	assert.Equal(t, task.StatusSkipped, res.Status)
	assert.Empty(t, rec.waits)
}

func TestAllAttemptsRaiseSynthesizesFailure(t *testing.T) {
	rec := &sleepRecorder{}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	h := &scripted{steps: []func() (task.Result, error){raise("dial tcp: timeout"), raise("connection reset")}}

	res := r.Run(context.Background(), def, h, policy(2, time.Second))

	assert.Equal(t, 3, h.Calls())
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, "connection reset", res.Error)
	assert.Contains(t, res.Summary, "3 attempts")
}

func TestLastObtainedResultWinsOverLaterErrors(t *testing.T) {
	r := New(logx.Nop(), WithSleep((&sleepRecorder{}).sleep))
	h := &scripted{steps: []func() (task.Result, error){fail("quota exceeded"), raise("boom")}}

	res := r.Run(context.Background(), def, h, policy(1))

	assert.Equal(t, 2, h.Calls())
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, "quota exceeded", res.Error)
}

func TestPanicsAreContained(t *testing.T) {
	r := New(logx.Nop(), WithSleep((&sleepRecorder{}).sleep))
	h := task.HandlerFunc(func(ctx context.Context, d task.Definition) (task.Result, error) {
		panic("nil map write")
	})

	var res task.Result
	require.NotPanics(t, func() {
		res = r.Run(context.Background(), def, h, policy(1))
	})
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "panic: nil map write")
	assert.Equal(t, 2, res.Attempts)
}

func TestBackoffClampsToLastValue(t *testing.T) {
	rec := &sleepRecorder{}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	h := &scripted{steps: []func() (task.Result, error){fail("x")}}

	r.Run(context.Background(), def, h, policy(4, time.Second, 2*time.Second))

	assert.Equal(t, 5, h.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}, rec.waits)
}

func TestPolicyDelay(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Duration(0), Policy{}.Delay(0))
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 7*time.Second, p.Delay(2))
	assert.Equal(t, 7*time.Second, p.Delay(10))
	assert.Equal(t, time.Duration(0), Policy{Backoff: []time.Duration{-time.Second}}.Delay(0))
}

func TestCancelledBackoffAbortsLoop(t *testing.T) {
	rec := &sleepRecorder{result: context.Canceled}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	h := &scripted{steps: []func() (task.Result, error){fail("x")}}

	res := r.Run(context.Background(), def, h, policy(3, time.Second))

	assert.Equal(t, 1, h.Calls())
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "retry aborted")
	assert.Contains(t, res.Error, context.Canceled.Error())
}

func TestAttemptTimeoutReachesHandler(t *testing.T) {
	r := New(logx.Nop(), WithSleep((&sleepRecorder{}).sleep))
	h := task.HandlerFunc(func(ctx context.Context, d task.Definition) (task.Result, error) {
		<-ctx.Done()
		return task.Result{}, ctx.Err()
	})

	res := r.Run(context.Background(), def, h, Policy{AttemptTimeout: 20 * time.Millisecond})

	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "deadline exceeded")
	assert.GreaterOrEqual(t, res.Duration, 20*time.Millisecond)
}

func TestRetryIsBlindToErrorType(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	r := New(logx.Nop(), WithSleep(rec.sleep))
	calls := 0
	h := task.HandlerFunc(func(ctx context.Context, def task.Definition) (task.Result, error) {
		calls++
		return task.Result{}, &task.ConfigError{TaskID: def.ID, Err: errors.New("params.url is required")}
	})

	res := r.Run(context.Background(), task.Definition{ID: "uptime"}, h, Policy{MaxRetries: 2, Backoff: []time.Duration{time.Second}})
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Error, "params.url is required")
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.waits)
}
