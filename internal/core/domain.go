package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type (
	Money struct {
		Cents int64
	}

	// Donation is one contribution inside a bucket.
	Donation struct {
		Name   string `json:"name"`
		Amount Money  `json:"amount"`
	}

	// Key identifies a bucket: a year and one of the twelve canonical months.
	// It encodes as "<year>-<MonthName>", e.g. "2024-January".
	Key struct {
		Year  int
		Month time.Month
	}

	// Dataset maps bucket keys to donations. Order inside a bucket is display order;
	// a missing key means zero donations.
	Dataset map[Key][]Donation

	// Expenses are carried as opaque JSON records.
	Expenses []json.RawMessage
)

var (
	ErrEmptyName     = errors.New("empty donor name")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidYear   = errors.New("invalid year")
	ErrInvalidKey    = errors.New("invalid donation key")
)

// Months lists the canonical month order used for buckets and totals.
var Months = []time.Month{
	time.January, time.February, time.March, time.April, time.May, time.June,
	time.July, time.August, time.September, time.October, time.November, time.December,
}

// NewKey builds a bucket key, checking the year has four digits and the month is canonical.
func NewKey(year int, month time.Month) (Key, error) {
	if year < 1000 || year > 9999 {
		return Key{}, fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}
	if month < time.January || month > time.December {
		return Key{}, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	return Key{Year: year, Month: month}, nil
}

// ParseKey parses "<4-digit year>-<MonthName>". Month names are matched exactly.
func ParseKey(s string) (Key, error) {
	yearPart, monthPart, ok := strings.Cut(s, "-")
	if !ok || len(yearPart) != 4 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil || yearPart[0] == '+' {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	for _, m := range Months {
		if m.String() == monthPart {
			return NewKey(year, m)
		}
	}
	return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
}

// ParseMonth accepts a month name (any case) or its number 1-12.
func ParseMonth(s string) (time.Month, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
		}
		return time.Month(n), nil
	}
	for _, m := range Months {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
}

func (k Key) String() string {
	return fmt.Sprintf("%04d-%s", k.Year, k.Month)
}

func (k Key) MarshalText() ([]byte, error) {
	if _, err := NewKey(k.Year, k.Month); err != nil {
		return nil, err
	}
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Validate checks the donor fields the way the add form does.
func (d Donation) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if err := d.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	return nil
}

// Clone returns a deep copy so that callers can mutate buckets freely.
func (ds Dataset) Clone() Dataset {
	out := make(Dataset, len(ds))
	for k, v := range ds {
		out[k] = append([]Donation(nil), v...)
	}
	return out
}

// Keys returns bucket keys in chronological order.
func (ds Dataset) Keys() []Key {
	keys := make([]Key, 0, len(ds))
	for k := range ds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Year != keys[j].Year {
			return keys[i].Year < keys[j].Year
		}
		return keys[i].Month < keys[j].Month
	})
	return keys
}

// Count returns the number of donations across all buckets.
func (ds Dataset) Count() int {
	n := 0
	for _, v := range ds {
		n += len(v)
	}
	return n
}

// Bucket returns the donations recorded for year and month, nil when there are none.
func (ds Dataset) Bucket(year int, month time.Month) []Donation {
	return ds[Key{Year: year, Month: month}]
}

// AddDonation validates donor and returns a new dataset with donor appended to the
// year-month bucket. The input dataset is never modified; on a validation failure it is
// returned as is together with a *ValidationError.
func AddDonation(ds Dataset, year int, month time.Month, donor Donation) (Dataset, error) {
	key, err := NewKey(year, month)
	if err != nil {
		field := "year"
		if errors.Is(err, ErrInvalidMonth) {
			field = "month"
		}
		return ds, &ValidationError{Field: field, Err: err}
	}
	donor.Name = strings.TrimSpace(donor.Name)
	if err := donor.Validate(); err != nil {
		return ds, err
	}

	out := make(Dataset, len(ds)+1)
	for k, v := range ds {
		out[k] = v
	}
	bucket := make([]Donation, 0, len(ds[key])+1)
	bucket = append(bucket, ds[key]...)
	out[key] = append(bucket, donor)
	return out, nil
}

// DecodeDataset parses a dataset document. The document must be a JSON object whose keys
// all parse as bucket keys; donation fields are taken as found.
func DecodeDataset(data []byte) (Dataset, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, errors.New("dataset document is not a JSON object")
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if ds == nil {
		ds = Dataset{}
	}
	return ds, nil
}

// EncodeDataset serialises the whole dataset with stable key order.
func EncodeDataset(ds Dataset) ([]byte, error) {
	if ds == nil {
		ds = Dataset{}
	}
	return json.MarshalIndent(ds, "", "  ")
}

// DecodeExpenses parses an expense document, which must be a JSON array.
func DecodeExpenses(data []byte) (Expenses, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errors.New("expense document is not a JSON array")
	}
	var xs Expenses
	if err := json.Unmarshal(data, &xs); err != nil {
		return nil, fmt.Errorf("decode expenses: %w", err)
	}
	if xs == nil {
		xs = Expenses{}
	}
	return xs, nil
}

// EncodeExpenses writes the records as a JSON array, each one byte for byte as
// it was decoded.
func EncodeExpenses(xs Expenses) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, x := range xs {
		if !json.Valid(x) {
			return nil, fmt.Errorf("encode expenses: record %d is not valid JSON", i)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(x)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Merge appends every donation of other to the matching bucket of ds, in other's
// chronological order. Neither input is modified.
func Merge(ds, other Dataset) Dataset {
	out := ds.Clone()
	for _, k := range other.Keys() {
		out[k] = append(out[k], other[k]...)
	}
	return out
}
