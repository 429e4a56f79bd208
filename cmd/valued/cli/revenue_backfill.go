package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stepfund/valued/internal/revenue"
)

// RevenueRepo is the slice of the revenue repository the CLI consumes.
type RevenueRepo interface {
	ExistingDays(ctx context.Context, from, to time.Time) ([]time.Time, error)
	UpsertDays(ctx context.Context, days []revenue.DailyRevenue) error
}

// RevenueOpsCLI offers operational helpers for the per-day revenue series.
// Gaps in the series force the valuation engine onto the snapshot fallback,
// so backfilling them keeps the monthly calculation on historized data.
type RevenueOpsCLI struct {
	repo RevenueRepo
}

// NewRevenueOpsCLI constructs a new helper instance.
func NewRevenueOpsCLI(repo RevenueRepo) (*RevenueOpsCLI, error) {
	if repo == nil {
		return nil, errors.New("revenue cli: repository required")
	}
	return &RevenueOpsCLI{repo: repo}, nil
}

// RevenueBackfillMode enumerates supported execution strategies.
type RevenueBackfillMode string

const (
	// RevenueBackfillModeDry previews gaps without applying changes.
	RevenueBackfillModeDry RevenueBackfillMode = "dry"
	// RevenueBackfillModeApply persists rows after confirmation.
	RevenueBackfillModeApply RevenueBackfillMode = "apply"
)

// RevenueBackfillOptions configures the backfill command execution.
type RevenueBackfillOptions struct {
	From         string
	To           string
	Mode         RevenueBackfillMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// RevenueBackfillSummary captures the structured reporting outcome.
type RevenueBackfillSummary struct {
	Mode       RevenueBackfillMode        `json:"mode"`
	From       string                     `json:"from"`
	To         string                     `json:"to"`
	Missing    []string                   `json:"missing_days"`
	Candidates []RevenueBackfillCandidate `json:"candidates"`
	Applied    []RevenueBackfillCandidate `json:"applied,omitempty"`
}

// RevenueBackfillCandidate summarises a row sourced from CSV/stdin.
type RevenueBackfillCandidate struct {
	Day    string  `json:"day"`
	Amount float64 `json:"amount"`
}

// BackfillCommand executes the revenue backfill workflow.
func (c *RevenueOpsCLI) BackfillCommand(ctx context.Context, opts RevenueBackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = RevenueBackfillModeDry
	}
	mode := RevenueBackfillMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case RevenueBackfillModeDry, RevenueBackfillModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "revenue backfill: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	from, err := time.Parse("2006-01-02", strings.TrimSpace(opts.From))
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: invalid --from %q (expected YYYY-MM-DD)\n", opts.From)
		return 1
	}
	to, err := time.Parse("2006-01-02", strings.TrimSpace(opts.To))
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: invalid --to %q (expected YYYY-MM-DD)\n", opts.To)
		return 1
	}
	if !from.Before(to) {
		fmt.Fprintln(opts.Stderr, "revenue backfill: --from must be earlier than --to")
		return 1
	}

	existing, err := c.repo.ExistingDays(ctx, from, to)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: %v\n", err)
		return 1
	}
	present := make(map[string]struct{}, len(existing))
	for _, day := range existing {
		present[day.Format("2006-01-02")] = struct{}{}
	}
	var missing []string
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}

	candidates, err := loadBackfillCandidates(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: %v\n", err)
		return 1
	}
	summary := RevenueBackfillSummary{
		Mode:    mode,
		From:    from.Format("2006-01-02"),
		To:      to.Format("2006-01-02"),
		Missing: missing,
	}
	summary.Candidates = filterCandidates(missing, candidates)

	if mode == RevenueBackfillModeDry {
		if err := writeBackfillOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "revenue backfill: %v\n", err)
			return 1
		}
		if len(missing) > 0 {
			return 10
		}
		return 0
	}
	if len(missing) == 0 {
		if err := writeBackfillOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "revenue backfill: %v\n", err)
			return 1
		}
		return 0
	}
	rows, err := prepareUpserts(summary.Candidates, missing)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: %v\n", err)
		return 1
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultBackfillConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "revenue backfill: cancelled by user")
		return 1
	}
	if err := c.repo.UpsertDays(ctx, rows); err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: apply failed: %v\n", err)
		return 1
	}
	applied := make([]RevenueBackfillCandidate, len(rows))
	for i, row := range rows {
		applied[i] = RevenueBackfillCandidate{
			Day:    row.Day.Format("2006-01-02"),
			Amount: row.TotalBase,
		}
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].Day < applied[j].Day })
	summary.Applied = applied
	if err := writeBackfillOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "revenue backfill: %v\n", err)
		return 1
	}
	return 0
}

func loadBackfillCandidates(opts RevenueBackfillOptions) (map[string]RevenueBackfillCandidate, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		if opts.Stdin == nil {
			return nil, errors.New("source - requires stdin")
		}
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return map[string]RevenueBackfillCandidate{}, nil
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]RevenueBackfillCandidate{}, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]RevenueBackfillCandidate{}, nil
		}
		return nil, err
	}
	indexes := map[string]int{"day": -1, "amount": -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "day", "date":
			indexes["day"] = i
		case "amount", "total", "total_base":
			indexes["amount"] = i
		}
	}
	if indexes["day"] < 0 || indexes["amount"] < 0 {
		return nil, fmt.Errorf("missing required columns in source (need day, amount)")
	}
	result := make(map[string]RevenueBackfillCandidate)
	for {
		record, err := nextNonEmptyRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if indexes["day"] >= len(record) || indexes["amount"] >= len(record) {
			return nil, fmt.Errorf("invalid record length in source")
		}
		dayStr := strings.TrimSpace(record[indexes["day"]])
		if dayStr == "" {
			continue
		}
		day, err := time.Parse("2006-01-02", dayStr)
		if err != nil {
			return nil, fmt.Errorf("invalid day %q in source", dayStr)
		}
		key := day.Format("2006-01-02")
		amount, err := strconv.ParseFloat(strings.TrimSpace(record[indexes["amount"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for %s: %v", key, err)
		}
		result[key] = RevenueBackfillCandidate{Day: key, Amount: amount}
	}
	return result, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		skip := true
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "#") {
				continue
			}
			skip = false
		}
		if skip {
			continue
		}
		return record, nil
	}
}

func filterCandidates(missing []string, candidates map[string]RevenueBackfillCandidate) []RevenueBackfillCandidate {
	rows := make([]RevenueBackfillCandidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(missing))
	for _, day := range missing {
		if candidate, ok := candidates[day]; ok {
			rows = append(rows, candidate)
			seen[day] = struct{}{}
		}
	}
	for day, candidate := range candidates {
		if _, ok := seen[day]; ok {
			continue
		}
		rows = append(rows, candidate)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day < rows[j].Day })
	return rows
}

func prepareUpserts(candidates []RevenueBackfillCandidate, missing []string) ([]revenue.DailyRevenue, error) {
	if len(missing) == 0 {
		return nil, nil
	}
	lookup := make(map[string]RevenueBackfillCandidate, len(candidates))
	for _, candidate := range candidates {
		lookup[candidate.Day] = candidate
	}
	rows := make([]revenue.DailyRevenue, 0, len(missing))
	for _, day := range missing {
		candidate, ok := lookup[day]
		if !ok {
			return nil, fmt.Errorf("missing source amount for %s", day)
		}
		if candidate.Amount < 0 {
			return nil, fmt.Errorf("negative amount for %s", day)
		}
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, err
		}
		rows = append(rows, revenue.DailyRevenue{Day: parsed, TotalBase: candidate.Amount})
	}
	return rows, nil
}

func writeBackfillOutput(opts RevenueBackfillOptions, summary RevenueBackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderBackfillHuman(opts.Stdout, summary)
	return nil
}

func renderBackfillHuman(out io.Writer, summary RevenueBackfillSummary) {
	fmt.Fprintf(out, "Revenue backfill (%s) from %s to %s\n", summary.Mode, summary.From, summary.To)
	if len(summary.Missing) == 0 {
		fmt.Fprintln(out, "No gaps detected.")
	} else {
		fmt.Fprintf(out, "%d missing day(s):\n", len(summary.Missing))
		for _, day := range summary.Missing {
			fmt.Fprintf(out, " - %s\n", day)
		}
	}
	if len(summary.Candidates) > 0 {
		fmt.Fprintln(out, "Source candidates:")
		for _, candidate := range summary.Candidates {
			fmt.Fprintf(out, " - %s amount %.2f\n", candidate.Day, candidate.Amount)
		}
	}
	if len(summary.Applied) > 0 {
		fmt.Fprintln(out, "Applied:")
		for _, row := range summary.Applied {
			fmt.Fprintf(out, " - %s amount %.2f\n", row.Day, row.Amount)
		}
	}
}

func defaultBackfillConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply revenue backfill? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response := strings.TrimSpace(line)
	return strings.EqualFold(response, "YES"), nil
}
