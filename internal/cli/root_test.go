package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villagecash/internal/backend"
	"villagecash/internal/config"
	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/scheduler"
	"villagecash/internal/services"
	"villagecash/internal/source/memory"
)

var testNow = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

// newTestOptions wires the CLI to an in-memory backend with two villages.
func newTestOptions(t *testing.T) *RootOptions {
	t.Helper()
	st := memory.New([]core.Village{{ID: "v1", Name: "Riverside"}, {ID: "v2", Name: "Lakeside"}}).
		WithClock(func() time.Time { return testNow })
	dir := t.TempDir()

	opts := &RootOptions{
		Setup: func(ctx context.Context, o *RootOptions) (*Runtime, error) {
			return &Runtime{
				Config:   &config.Config{ReportDir: dir, ReportCron: scheduler.DefaultSpec},
				Service:  services.NewCollectionService(st, st, st, nil, log.Discard()),
				Backend:  &backend.BackendResult{Backend: st, Loader: st},
				Location: time.UTC,
				Logger:   log.Discard(),
			}, nil
		},
	}
	t.Cleanup(func() { _ = opts.Close() })
	return opts
}

func run(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func addJSON(t *testing.T, opts *RootOptions, args ...string) core.Record {
	t.Helper()
	out, err := run(t, opts, append([]string{"add", "--format", "json"}, args...)...)
	require.NoError(t, err)
	var rec core.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	return rec
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "villagecash", cmd.Use)
	assert.Contains(t, cmd.Long, "DATA_BACKEND")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	commands := []string{"villages", "list", "summary", "today", "add", "update", "remove", "export", "worker", "schedule"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	opts := newTestOptions(t)
	_, err := run(t, opts, "villages", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSetupErrorIsReturned(t *testing.T) {
	opts := &RootOptions{Setup: func(context.Context, *RootOptions) (*Runtime, error) {
		return nil, errors.New("no backend")
	}}
	_, err := run(t, opts, "villages")
	require.Error(t, err)
	assert.Equal(t, "no backend", err.Error())
}

func TestVillagesCommand(t *testing.T) {
	opts := newTestOptions(t)
	out, err := run(t, opts, "villages")
	require.NoError(t, err)
	assert.Contains(t, out, "Riverside")
	assert.Contains(t, out, "v2")

	out, err = run(t, opts, "villages", "--format", "json")
	require.NoError(t, err)
	var vs []core.Village
	require.NoError(t, json.Unmarshal([]byte(out), &vs))
	assert.Len(t, vs, 2)
}

func TestAddListSummary(t *testing.T) {
	opts := newTestOptions(t)

	out, err := run(t, opts, "add", "--village", "Riverside", "--date", "2024-03-01", "--customers", "10", "--amount", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-01")
	assert.Contains(t, out, "households=10")
	assert.Contains(t, out, "amount=100.00")

	rec := addJSON(t, opts, "--village", "v1", "--date", "2024-03-02T08:30:00", "--customers", "5", "--amount", "250.00")
	assert.Equal(t, core.DayKey("2024-03-02"), rec.Date)
	assert.Equal(t, "v1", rec.Village.ID)
	assert.True(t, rec.Persisted())

	out, err = run(t, opts, "list", "--village", "riverside")
	require.NoError(t, err)
	assert.Contains(t, out, "Riverside: 2 records")
	assert.Less(t, strings.Index(out, "2024-03-02"), strings.Index(out, "2024-03-01"), "newest first")

	out, err = run(t, opts, "list", "--village", "Riverside", "--from", "2024-03-02")
	require.NoError(t, err)
	assert.Contains(t, out, "Riverside: 1 records")

	out, err = run(t, opts, "summary", "--village", "Riverside", "--format", "json")
	require.NoError(t, err)
	var vs core.VillageSummary
	require.NoError(t, json.Unmarshal([]byte(out), &vs))
	assert.Equal(t, int64(35000), vs.Summary.TotalAmount.Cents)
	assert.Equal(t, int64(15), vs.Summary.TotalCustomers)
	assert.Equal(t, int64(2333), vs.Summary.AveragePerCustomer.Cents)
	assert.Equal(t, core.DayKey("2024-03-02"), vs.Summary.MostProfitableDate)

	out, err = run(t, opts, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Lakeside")
	assert.Contains(t, out, "ALL")
	assert.Contains(t, out, "350.00")
}

func TestAddRejected(t *testing.T) {
	opts := newTestOptions(t)
	_, err := run(t, opts, "add", "--village", "Riverside", "--date", "2024-03-01", "--customers", "3")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"same day", []string{"--date", "2024-03-01T18:00:00"}, ExitRejected},
		{"negative customers", []string{"--date", "2024-03-05", "--customers", "-1"}, ExitRejected},
		{"unreadable amount", []string{"--date", "2024-03-05", "--amount", "lots"}, ExitRejected},
		{"bad date", []string{"--date", "someday"}, ExitRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"add", "--village", "Riverside"}, tt.args...)
			_, err := run(t, opts, args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}

	out, err := run(t, opts, "list", "--village", "Riverside")
	require.NoError(t, err)
	assert.Contains(t, out, "Riverside: 1 records")
}

func TestAddRequiresDateAndVillage(t *testing.T) {
	opts := newTestOptions(t)

	_, err := run(t, opts, "add", "--village", "Riverside")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--date")

	_, err = run(t, opts, "add", "--date", "2024-03-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--village")
}

func TestUpdateAndRemove(t *testing.T) {
	opts := newTestOptions(t)
	first := addJSON(t, opts, "--village", "Riverside", "--date", "2024-03-01", "--customers", "10")
	addJSON(t, opts, "--village", "Riverside", "--date", "2024-03-02", "--customers", "4")

	out, err := run(t, opts, "update", first.ID, "--village", "Riverside", "--customers", "12", "--amount", "80")
	require.NoError(t, err)
	assert.Contains(t, out, "households=12")
	assert.Contains(t, out, "amount=80.00")
	assert.Contains(t, out, "2024-03-01")

	_, err = run(t, opts, "update", first.ID, "--village", "Riverside", "--date", "2024-03-02")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDuplicateDate))
	assert.Equal(t, ExitRejected, GetExitCode(err))

	_, err = run(t, opts, "update", first.ID, "--village", "Riverside")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")

	_, err = run(t, opts, "update", "missing", "--village", "Riverside", "--customers", "1")
	require.Error(t, err)
	assert.Equal(t, ExitNotFound, GetExitCode(err))

	out, err = run(t, opts, "remove", first.ID, "--village", "Riverside")
	require.NoError(t, err)
	assert.Equal(t, "Removed "+first.ID+"\n", out)

	out, err = run(t, opts, "list", "--village", "Riverside")
	require.NoError(t, err)
	assert.Contains(t, out, "Riverside: 1 records")
	assert.NotContains(t, out, first.ID)
}

func TestTodayCommand(t *testing.T) {
	opts := newTestOptions(t)
	addJSON(t, opts, "--village", "Riverside", "--date", "2024-03-01", "--customers", "10", "--amount", "100")
	addJSON(t, opts, "--village", "Riverside", "--date", "2024-03-02", "--customers", "4", "--amount", "40.50")

	out, err := run(t, opts, "today", "--village", "Riverside")
	require.NoError(t, err)
	assert.Equal(t, "Riverside 2024-03-02: 4 households, 40.50 collected (1 records)\n", out)

	for _, date := range []string{"2024-03-01", "3/1/2024", "2024-03-01T23:00:00"} {
		out, err = run(t, opts, "today", "--village", "Riverside", "--date", date)
		require.NoError(t, err, date)
		assert.Contains(t, out, "2024-03-01: 10 households, 100.00 collected", date)
	}

	_, err = run(t, opts, "today", "--village", "Riverside", "--date", "2024-02-30")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidDate))
}

func TestExportAndSchedule(t *testing.T) {
	opts := newTestOptions(t)
	addJSON(t, opts, "--village", "Riverside", "--date", "2024-03-01", "--customers", "10", "--amount", "100")

	dir := t.TempDir()
	out, err := run(t, opts, "export", "--out", dir, "--village", "Riverside")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, ".xlsx", filepath.Ext(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, err = run(t, opts, "schedule", "--once")
	require.NoError(t, err)
	_, err = os.Stat(strings.TrimSpace(out))
	require.NoError(t, err)
}

func TestWorkerNeedsBroker(t *testing.T) {
	opts := newTestOptions(t)
	_, err := run(t, opts, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMQP_URL")
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", &core.ValidationError{Field: "customers", Reason: "negative"}, ExitRejected},
		{"duplicate", &core.DuplicateDateError{Date: "2024-03-01"}, ExitRejected},
		{"not found", &core.NotFoundError{ID: "x"}, ExitNotFound},
		{"transport", core.Transport("fetch records", errors.New("timeout")), ExitUnavailable},
		{"other", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
