package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tracker/internal/core"
)

const extract = `id_pacote,origem,destino,status_rastreamento,data_atualizacao
7,SP,RJ,POSTADO,2025-10-12T08:15:00Z
7,SP,BH,ENTREGUE,2025-10-13T17:40:00Z
8,MG,BA,POSTADO,2025-10-12T09:00:00Z
`

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// useSQLite points DATABASE_URL at a fresh database file.
func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("TRACKER_CONFIG", "")
	t.Setenv("TIMESCALE_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "tracker.db"))
}

func writeExtract(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBatchCommand_LoadsAndIsIdempotent(t *testing.T) {
	useSQLite(t)
	path := writeExtract(t, extract)

	stdout, _, err := execute(t, "batch", path, "--output", "json")
	require.NoError(t, err)

	var first core.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &first))
	assert.Equal(t, core.PhaseLoaded, first.Phase)
	assert.Equal(t, "extract.csv", first.Source)
	assert.Equal(t, core.LoadResult{PackagesInserted: 2, EventsInserted: 3}, first.Load)

	stdout, _, err = execute(t, "batch", path, "-o", "json")
	require.NoError(t, err)

	var second core.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &second))
	assert.Equal(t, core.LoadResult{PackagesSkipped: 2, EventsSkipped: 3}, second.Load)
}

func TestBatchCommand_TextReport(t *testing.T) {
	useSQLite(t)
	path := writeExtract(t, extract+"x,SP,RJ,POSTADO,2025-10-12T08:15:00Z\n")

	stdout, stderr, err := execute(t, "batch", path, "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "phase     loaded")
	assert.Contains(t, stdout, "invalid_package_id id_pacote (x)")

	// logs go to stderr only
	assert.Contains(t, stderr, `"msg":"batch run completed"`)
	assert.NotContains(t, stdout, "batch run completed")
}

func TestBatchCommand_EmptyExtractIsNoop(t *testing.T) {
	useSQLite(t)
	path := writeExtract(t, "id_pacote,origem,destino,status_rastreamento,data_atualizacao\n")

	stdout, _, err := execute(t, "batch", path, "-o", "json")
	require.NoError(t, err)

	var report core.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, core.PhaseSkipped, report.Phase)
}

func TestBatchCommand_MissingFile(t *testing.T) {
	useSQLite(t)

	stdout, _, err := execute(t, "batch", filepath.Join(t.TempDir(), "nope.csv"), "-o", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, core.ErrSourceNotFound)
	assert.Contains(t, UserError(err), "SRC001")

	var report core.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, core.PhaseFailed, report.Phase)
}

func TestBatchCommand_NoDatabase(t *testing.T) {
	t.Setenv("TRACKER_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TIMESCALE_DATABASE_URL", "")

	_, _, err := execute(t, "batch", writeExtract(t, extract))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestProduceCommand_NothingValidPublishesNothing(t *testing.T) {
	t.Setenv("TRACKER_CONFIG", "")
	// unreachable broker: the publisher must not be created
	t.Setenv("KAFKA_BROKERS", "127.0.0.1:1")
	path := writeExtract(t, `id_pacote,origem,destino,status_rastreamento,data_atualizacao
abc,SP,RJ,POSTADO,2025-10-12T08:15:00Z
1,SP,RJ,POSTADO,yesterday
`)

	stdout, _, err := execute(t, "produce", path, "--topic", "replay", "-o", "json")
	require.NoError(t, err)

	var summary ProduceSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, ProduceSummary{Source: "extract.csv", Topic: "replay", Fetched: 2, Rejected: 2}, summary)
}

func TestProduceCommand_MissingFile(t *testing.T) {
	t.Setenv("TRACKER_CONFIG", "")
	_, _, err := execute(t, "produce", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServeCommand_StopsOnCancel(t *testing.T) {
	useSQLite(t)
	port := freePort(t)
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_PORT", strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := executeContext(t, ctx, "serve")
		done <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
