package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/rollout/pkg/objstore"
	"github.com/seantiz/rollout/pkg/rollout"
)

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func postInvocation(t *testing.T, sp *serverProc, sessionID, body string) rollout.Ack {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, sp.url+"/invocations", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amzn-Bedrock-AgentCore-Runtime-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack rollout.Ack
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	return ack
}

func TestProducerHealth(t *testing.T) {
	sp := startServer(t)

	var health map[string]string
	getJSON(t, sp.url+"/healthz", &health)
	assert.Equal(t, "ok", health["status"])

	var ping struct {
		Status           string `json:"status"`
		TimeOfLastUpdate int64  `json:"time_of_last_update"`
	}
	getJSON(t, sp.url+"/ping", &ping)
	assert.Equal(t, "Healthy", ping.Status)
	assert.Positive(t, ping.TimeOfLastUpdate)
}

func TestProducerMetrics(t *testing.T) {
	sp := startServer(t)

	resp, err := http.Get(sp.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"rollout_http_requests_total",
		"rollout_http_request_duration_seconds",
		"rollout_tasks_in_flight",
		"rollout_result_writes_total",
	} {
		assert.Contains(t, string(body), name)
	}
}

func TestProducerLogsAreJSON(t *testing.T) {
	sp := startServer(t)

	sc := bufio.NewScanner(strings.NewReader(sp.stdout.String()))
	lines := 0
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry), "log line is not JSON: %s", sc.Text())
		assert.Contains(t, entry, "msg")
		assert.Contains(t, entry, "level")
		lines++
	}
	assert.Positive(t, lines)
}

func TestInvokeThroughCLI(t *testing.T) {
	sp := startServer(t)

	stdout, stderr, err := runCLI(t, sp, "", "invoke",
		"--payload", `{"prompt": "2+2", "reward": 0.5}`,
		"--input-id", "q1", "--session-id", "s1")
	require.NoError(t, err, stderr)

	var res rollout.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, rollout.StatusSuccess, res.Status)
	assert.Equal(t, "e2e/q1_s1.json", res.ResultKey)
	assert.Equal(t, []float64{0.5}, res.Rewards)
	assert.JSONEq(t, `[{"echo": "2+2"}]`, string(res.RolloutData))
}

func TestBatchThroughCLI(t *testing.T) {
	sp := startServer(t)

	payloads := []string{
		`{"prompt": "a", "delay_ms": 200}`,
		`{"prompt": "b", "mode": "fail", "error": "model unreachable"}`,
		`{"prompt": "c", "mode": "panic"}`,
		`{"prompt": "d", "mode": "invalid"}`,
		`{"prompt": "e", "delay_ms": 50, "reward": 0}`,
		`{"prompt": "f"}`,
	}
	stdout, stderr, err := runCLI(t, sp, strings.Join(payloads, "\n"), "batch", "-", "--concurrency", "3")
	require.Error(t, err, "batch with failures exits non-zero")
	assert.Contains(t, stderr, "3 of 6 rollouts failed")

	type line struct {
		Index   int             `json:"index"`
		Success bool            `json:"success"`
		Result  *rollout.Result `json:"result"`
		Error   string          `json:"error"`
	}
	byIndex := make(map[int]line)
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		byIndex[l.Index] = l
	}
	require.Len(t, byIndex, len(payloads))

	for _, i := range []int{0, 4, 5} {
		assert.True(t, byIndex[i].Success, "item %d: %s", i, byIndex[i].Error)
	}
	assert.Equal(t, []float64{0}, byIndex[4].Result.Rewards)

	assert.Contains(t, byIndex[1].Error, "model unreachable")
	assert.Contains(t, byIndex[2].Error, "panic: stub panic")
	assert.Contains(t, byIndex[3].Error, "rewards must be length 1")
	for _, i := range []int{1, 2, 3} {
		require.NotNil(t, byIndex[i].Result, "item %d", i)
		assert.Equal(t, rollout.StatusError, byIndex[i].Result.Status)
		assert.Equal(t, rollout.StatusCodeError, byIndex[i].Result.StatusCode)
	}
}

func TestTaskLogStream(t *testing.T) {
	sp := startServer(t)

	ack := postInvocation(t, sp, "s-logs", `{
		"prompt": "x",
		"delay_ms": 500,
		"logs": ["calling model", "reward 1"],
		"_rollout": {"experiment_id": "e2e", "session_id": "s-logs", "input_id": "q", "result_store_target": "rollouts"}
	}`)
	require.NotEmpty(t, ack.TaskID)

	var tasks struct {
		Status      string `json:"status"`
		Outstanding int    `json:"outstanding"`
	}
	getJSON(t, sp.url+"/v1/tasks", &tasks)
	assert.Equal(t, "HealthyBusy", tasks.Status)
	assert.Equal(t, 1, tasks.Outstanding)

	resp, err := http.Get(sp.url + "/v1/tasks/" + ack.TaskID + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var data []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		l := sc.Text()
		if l == "event: done" {
			break
		}
		if d, ok := strings.CutPrefix(l, "data: "); ok {
			data = append(data, d)
		}
	}
	assert.Equal(t, []string{"calling model", "reward 1"}, data)
}

func TestShutdownWaitsForOutstandingRollouts(t *testing.T) {
	sp := startServer(t)

	ack := postInvocation(t, sp, "s-drain", `{
		"prompt": "slow",
		"delay_ms": 800,
		"_rollout": {"experiment_id": "e2e", "session_id": "s-drain", "input_id": "q", "result_store_target": "rollouts"}
	}`)

	require.NoError(t, sp.cmd.Process.Signal(syscall.SIGTERM))
	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err, "stdout:\n%s", sp.stdout.String())
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not exit\nstdout:\n%s", sp.stdout.String())
	}
	assert.Contains(t, sp.stdout.String(), "waiting for background rollouts")

	s, err := objstore.NewSQLiteStore(sp.dbPath)
	require.NoError(t, err)
	defer s.Close()
	body, err := s.Get(context.Background(), ack.ResultStoreTarget, ack.ResultKey)
	require.NoError(t, err)
	res, err := rollout.DecodeResult(body)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.True(t, bytes.Contains(res.Payload, []byte(`"slow"`)))
}
