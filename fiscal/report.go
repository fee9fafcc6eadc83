package fiscal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStreamThreshold is the range size above which sales are folded from
// a cursor instead of being loaded into memory.
const DefaultStreamThreshold = 5000

// RangeReport is every aggregation over a time range. Treasury uses a zero
// opening: over an arbitrary range it shows flows, not balances.
type RangeReport struct {
	From                 time.Time           `json:"from"`
	To                   time.Time           `json:"to"`
	Revision             int64               `json:"revision"`
	SaleCount            int                 `json:"saleCount"`
	Streamed             bool                `json:"streamed"`
	ReferenceRate        decimal.Decimal     `json:"referenceRate"`
	KPIs                 KPISet              `json:"kpis"`
	Treasury             Treasury            `json:"treasury"`
	PaymentMethods       []MethodTotal       `json:"paymentMethods"`
	PaymentMethodsNative []NativeMethodTotal `json:"paymentMethodsNative"`
}

// Reporter serves read-only aggregations from a store.
type Reporter struct {
	sales     SaleStore
	shifts    ShiftStore
	cortes    CorteStore
	cfg       Config
	memo      *Memo
	observer  Observer
	threshold int
	now       func() time.Time
}

func NewReporter(sales SaleStore, shifts ShiftStore, cfg Config, memo *Memo) *Reporter {
	return &Reporter{sales: sales, shifts: shifts, cfg: cfg, memo: memo, threshold: DefaultStreamThreshold, now: time.Now}
}

// WithCortes lets Preview leave out sales an earlier corte already covers.
func (r *Reporter) WithCortes(cortes CorteStore) *Reporter {
	r.cortes = cortes
	return r
}

// WithClock replaces time.Now (tests).
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

func (r *Reporter) WithStreamThreshold(n int) *Reporter {
	if n > 0 {
		r.threshold = n
	}
	return r
}

func (r *Reporter) WithObserver(o Observer) *Reporter {
	r.observer = o
	return r
}

// Range aggregates sales with At in [from, to].
func (r *Reporter) Range(ctx context.Context, from, to time.Time) (RangeReport, error) {
	if to.Before(from) {
		return RangeReport{}, ErrInvalidRange
	}
	rev, err := r.sales.Revision(ctx)
	if err != nil {
		return RangeReport{}, fmt.Errorf("read revision: %w", err)
	}
	rep, _, err := Memoize(ctx, r.memo, MemoKey("range", from, to, rev), func(ctx context.Context) (RangeReport, error) {
		return r.computeRange(ctx, from, to, rev)
	})
	return rep, err
}

func (r *Reporter) computeRange(ctx context.Context, from, to time.Time, rev int64) (RangeReport, error) {
	n, err := r.sales.CountRange(ctx, from, to)
	if err != nil {
		return RangeReport{}, fmt.Errorf("count range: %w", err)
	}

	kpi := NewKPIAccumulator(r.cfg.TaxRatePercent)
	tre := NewTreasuryAccumulator(OpeningBalances{}, r.observer)
	brk := NewBreakdownAccumulator()
	var rate rateTracker
	add := func(s Sale) error {
		kpi.Add(s)
		tre.Add(s)
		brk.Add(s)
		rate.add(s)
		return nil
	}

	streamed := n > r.threshold
	if streamed {
		if err := r.sales.EachInRange(ctx, from, to, add); err != nil {
			return RangeReport{}, fmt.Errorf("stream range: %w", err)
		}
	} else {
		sales, err := r.sales.LoadRange(ctx, from, to)
		if err != nil {
			return RangeReport{}, fmt.Errorf("load range: %w", err)
		}
		for i := range sales {
			_ = add(sales[i])
		}
	}

	return RangeReport{
		From:                 from,
		To:                   to,
		Revision:             rev,
		SaleCount:            n,
		Streamed:             streamed,
		ReferenceRate:        rate.value(),
		KPIs:                 kpi.Result(),
		Treasury:             tre.Result(),
		PaymentMethods:       brk.Result(),
		PaymentMethodsNative: brk.Native(),
	}, nil
}

// Preview builds the corte the open shift would produce right now without
// saving or sealing anything (X-report).
func (r *Reporter) Preview(ctx context.Context, registerID string) (Corte, error) {
	shift, err := r.shifts.CurrentShift(ctx, registerID)
	if err != nil {
		return Corte{}, err
	}
	rev, err := r.sales.Revision(ctx)
	if err != nil {
		return Corte{}, fmt.Errorf("read revision: %w", err)
	}
	key := MemoKey("preview:"+string(shift.ID), shift.OpenedAt, shift.OpenedAt, rev)
	c, _, err := Memoize(ctx, r.memo, key, func(ctx context.Context) (Corte, error) {
		sales, err := r.sales.LoadUnsealed(ctx, registerID)
		if err != nil {
			return Corte{}, fmt.Errorf("load shift sales: %w", err)
		}
		if r.cortes != nil && len(sales) > 0 {
			cortes, err := r.cortes.ListCortes(ctx, 0)
			if err != nil {
				return Corte{}, fmt.Errorf("list cortes: %w", err)
			}
			sales, _ = splitCovered(sales, cortes)
		}
		return BuildClosure(ClosureInput{
			Sales:      sales,
			Opening:    shift.Opening,
			Operator:   shift.Operator,
			Config:     r.cfg,
			ShiftID:    shift.ID,
			RegisterID: registerID,
			Observer:   r.observer,
		}), nil
	})
	if err != nil {
		return Corte{}, err
	}
	c.ClosedAt = r.now().UTC()
	return c, nil
}

// Corte returns a persisted corte, backfilling the fiscal block of legacy ones.
func (r *Reporter) Corte(ctx context.Context, cortes CorteStore, id ClosureID) (Corte, error) {
	c, err := cortes.GetCorte(ctx, id)
	if err != nil {
		return Corte{}, err
	}
	if !NeedsBackfill(c) {
		return c, nil
	}
	sealed, err := r.sales.LoadSealedBy(ctx, id)
	if err != nil {
		return Corte{}, fmt.Errorf("load sales sealed by %s: %w", id, err)
	}
	return BackfillCorte(c, sealed, r.cfg), nil
}
