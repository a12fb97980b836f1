package core

import (
	"sort"
	"time"
)

// MonthSummary is the bucket for one month of a year with its total.
type MonthSummary struct {
	Month     time.Month
	Total     Money
	Donations []Donation
}

// YearSummary is a compact summary for a year, one entry per canonical month.
type YearSummary struct {
	Year   int
	Total  Money
	Months []MonthSummary
}

// MonthTotal sums one bucket; a missing bucket is zero.
func MonthTotal(ds Dataset, year int, month time.Month) Money {
	var total Money
	for _, d := range ds[Key{Year: year, Month: month}] {
		total = total.Add(d.Amount)
	}
	return total
}

// YearTotal sums the twelve canonical month buckets of year.
func YearTotal(ds Dataset, year int) Money {
	var total Money
	for _, m := range Months {
		total = total.Add(MonthTotal(ds, year, m))
	}
	return total
}

// AllYearsTotal sums YearTotal over years. Duplicated years are counted once.
func AllYearsTotal(ds Dataset, years []int) Money {
	var total Money
	seen := make(map[int]struct{}, len(years))
	for _, y := range years {
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		total = total.Add(YearTotal(ds, y))
	}
	return total
}

// AvailableYears returns the distinct years present among the dataset keys,
// newest first.
func AvailableYears(ds Dataset) []int {
	seen := map[int]struct{}{}
	years := make([]int, 0)
	for k := range ds {
		if _, ok := seen[k.Year]; ok {
			continue
		}
		seen[k.Year] = struct{}{}
		years = append(years, k.Year)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

// RecentYears returns the n calendar years ending at now's year, newest first.
func RecentYears(now time.Time, n int) []int {
	if n <= 0 {
		return nil
	}
	years := make([]int, n)
	for i := range years {
		years[i] = now.Year() - i
	}
	return years
}

// SummarizeYear builds the per-month view of a year.
func SummarizeYear(ds Dataset, year int) YearSummary {
	s := YearSummary{Year: year, Months: make([]MonthSummary, 0, len(Months))}
	for _, m := range Months {
		bucket := ds.Bucket(year, m)
		ms := MonthSummary{
			Month:     m,
			Total:     MonthTotal(ds, year, m),
			Donations: append([]Donation(nil), bucket...),
		}
		s.Total = s.Total.Add(ms.Total)
		s.Months = append(s.Months, ms)
	}
	return s
}
