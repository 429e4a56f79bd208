package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stepfund/valued/internal/revenue"
)

type stubRevenueRepo struct {
	days     []time.Time
	upserted []revenue.DailyRevenue
	err      error
}

func (s *stubRevenueRepo) ExistingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.days, nil
}

func (s *stubRevenueRepo) UpsertDays(ctx context.Context, days []revenue.DailyRevenue) error {
	s.upserted = append(s.upserted, days...)
	return nil
}

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBackfillDryRunReportsGaps(t *testing.T) {
	repo := &stubRevenueRepo{days: []time.Time{day("2026-02-01"), day("2026-02-03")}}
	cli, err := NewRevenueOpsCLI(repo)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), RevenueBackfillOptions{
		From:       "2026-02-01",
		To:         "2026-02-04",
		Mode:       RevenueBackfillModeDry,
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Empty(t, stderr.String())

	var summary RevenueBackfillSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, []string{"2026-02-02"}, summary.Missing)
	require.Empty(t, repo.upserted)
}

func TestBackfillDryRunCleanRange(t *testing.T) {
	repo := &stubRevenueRepo{days: []time.Time{day("2026-02-01"), day("2026-02-02")}}
	cli, err := NewRevenueOpsCLI(repo)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), RevenueBackfillOptions{
		From:   "2026-02-01",
		To:     "2026-02-03",
		Stdout: stdout,
		Stderr: new(bytes.Buffer),
	})
	require.Zero(t, exitCode)
	require.Contains(t, stdout.String(), "No gaps detected")
}

func TestBackfillApplyUpsertsConfirmedRows(t *testing.T) {
	repo := &stubRevenueRepo{days: []time.Time{day("2026-02-01")}}
	cli, err := NewRevenueOpsCLI(repo)
	require.NoError(t, err)

	source := strings.NewReader("day,amount\n2026-02-02,120.50\n")
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), RevenueBackfillOptions{
		From:         "2026-02-01",
		To:           "2026-02-03",
		Mode:         RevenueBackfillModeApply,
		SourceReader: source,
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
		Confirm: func(io.Reader, io.Writer) (bool, error) {
			return true, nil
		},
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())
	require.Len(t, repo.upserted, 1)
	require.Equal(t, 120.50, repo.upserted[0].TotalBase)

	var summary RevenueBackfillSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Len(t, summary.Applied, 1)
	require.Equal(t, "2026-02-02", summary.Applied[0].Day)
}

func TestBackfillApplyCancelled(t *testing.T) {
	repo := &stubRevenueRepo{days: []time.Time{}}
	cli, err := NewRevenueOpsCLI(repo)
	require.NoError(t, err)

	source := strings.NewReader("day,amount\n2026-02-01,10\n2026-02-02,20\n")
	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), RevenueBackfillOptions{
		From:         "2026-02-01",
		To:           "2026-02-03",
		Mode:         RevenueBackfillModeApply,
		SourceReader: source,
		Stdout:       new(bytes.Buffer),
		Stderr:       stderr,
		Stdin:        strings.NewReader("no\n"),
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "cancelled by user")
	require.Empty(t, repo.upserted)
}

func TestBackfillApplyMissingSourceAmount(t *testing.T) {
	repo := &stubRevenueRepo{days: []time.Time{}}
	cli, err := NewRevenueOpsCLI(repo)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), RevenueBackfillOptions{
		From:   "2026-02-01",
		To:     "2026-02-02",
		Mode:   RevenueBackfillModeApply,
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "missing source amount")
}

func TestBackfillInvalidDates(t *testing.T) {
	repo := &stubRevenueRepo{}
	cli, err := NewRevenueOpsCLI(repo)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	exitCode := cli.BackfillCommand(context.Background(), RevenueBackfillOptions{
		From:   "2026-02",
		To:     "2026-03-01",
		Stdout: new(bytes.Buffer),
		Stderr: stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid --from")
}
