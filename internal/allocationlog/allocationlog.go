// Package allocationlog keeps a CSV record of every order write the
// allocation engine attempted.
package allocationlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/model"
)

// Status of one order write.
type Status string

const (
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusRepaired marks a failed or skipped write whose ledger entry
	// was later re-allocated in full.
	StatusRepaired Status = "repaired"
)

// Entry is one row in the allocation log.
type Entry struct {
	Timestamp     time.Time
	Op            allocation.Op
	LedgerEntryID string
	OrderID       string
	Status        Status
	Before        decimal.Decimal
	After         decimal.Decimal
	Error         string
}

// Header is the CSV header for allocation-log.csv.
const Header = "timestamp,op,ledger_entry_id,order_id,status,before,after,error"

const (
	numFields        = 8
	logDir           = "logs"
	logFile          = "logs/allocation-log.csv"
	colTimestamp     = 0
	colOp            = 1
	colLedgerEntryID = 2
	colOrderID       = 3
	colStatus        = 4
	colBefore        = 5
	colAfter         = 6
	colError         = 7
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colOp] = string(e.Op)
	row[colLedgerEntryID] = e.LedgerEntryID
	row[colOrderID] = e.OrderID
	row[colStatus] = string(e.Status)
	row[colBefore] = e.Before.StringFixed(2)
	row[colAfter] = e.After.StringFixed(2)
	row[colError] = e.Error
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	before, err := decimal.NewFromString(record[colBefore])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing before %q: %w", record[colBefore], err)
	}
	after, err := decimal.NewFromString(record[colAfter])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing after %q: %w", record[colAfter], err)
	}

	return Entry{
		Timestamp:     ts,
		Op:            allocation.Op(record[colOp]),
		LedgerEntryID: record[colLedgerEntryID],
		OrderID:       record[colOrderID],
		Status:        Status(record[colStatus]),
		Before:        before,
		After:         after,
		Error:         record[colError],
	}, nil
}

// Append writes entries to <root>/logs/allocation-log.csv, creating the
// file and header if needed.
func Append(root string, entries []Entry) error {
	dir := filepath.Join(root, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(root, logFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening allocation log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <root>/logs/allocation-log.csv. A missing
// file yields no entries.
func Read(root string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(root, logFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening allocation log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading allocation log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Unresolved returns failed or skipped writes not followed by a later
// applied or repaired row for the same ledger entry and order.
func Unresolved(entries []Entry) []Entry {
	type key struct{ entry, order string }
	last := make(map[key]int)
	for i, e := range entries {
		last[key{e.LedgerEntryID, e.OrderID}] = i
	}

	var out []Entry
	for i, e := range entries {
		if last[key{e.LedgerEntryID, e.OrderID}] != i {
			continue
		}
		if e.Status == StatusFailed || e.Status == StatusSkipped {
			out = append(out, e)
		}
	}
	return out
}

// MarkRepaired appends a repaired row for each of rows, stamped now.
func MarkRepaired(root string, rows []Entry, now time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	marks := make([]Entry, len(rows))
	for i, e := range rows {
		e.Timestamp = now.UTC()
		e.Status = StatusRepaired
		e.Error = ""
		marks[i] = e
	}
	return Append(root, marks)
}

// Recorder appends each allocation result to the log. It implements
// allocation.Recorder.
type Recorder struct {
	mu   sync.Mutex
	root string
	now  func() time.Time
}

// NewRecorder creates a Recorder writing under root.
func NewRecorder(root string) *Recorder {
	return &Recorder{root: root, now: time.Now}
}

// Record implements allocation.Recorder.
func (r *Recorder) Record(_ context.Context, res allocation.Result) error {
	applied := make(map[string]bool, len(res.Applied))
	for _, id := range res.Applied {
		applied[id] = true
	}
	failed := make(map[string]string, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.OrderID] = f.Err.Error()
	}

	ts := r.now().UTC()
	entries := make([]Entry, 0, len(res.Plan.Writes))
	for _, w := range res.Plan.Writes {
		e := Entry{
			Timestamp:     ts,
			Op:            res.Plan.Op,
			LedgerEntryID: res.Plan.LedgerEntryID,
			OrderID:       w.OrderID,
			Before:        model.SumPayments(w.Before),
			After:         model.SumPayments(w.After),
		}
		switch {
		case applied[w.OrderID]:
			e.Status = StatusApplied
		case failed[w.OrderID] != "":
			e.Status = StatusFailed
			e.Error = failed[w.OrderID]
		default:
			e.Status = StatusSkipped
		}
		entries = append(entries, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return Append(r.root, entries)
}

var _ allocation.Recorder = (*Recorder)(nil)
