package currency

import "encoding/json"

// Debt is the multi-currency debt record (C2): a sparse mapping of currency
// to a strictly-positive scalar amount. Zero or negative amounts are never
// retained as keys.
type Debt struct {
	amounts map[Code]float64
}

// MarshalJSON encodes the debt as a plain currency-to-amount object, since
// amounts is unexported.
func (d *Debt) MarshalJSON() ([]byte, error) {
	if d == nil {
		return json.Marshal(map[Code]float64{})
	}
	return json.Marshal(d.amounts)
}

// UnmarshalJSON decodes a plain currency-to-amount object into the debt,
// dropping any non-positive entries per the type's invariant.
func (d *Debt) UnmarshalJSON(data []byte) error {
	var raw map[Code]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.amounts = map[Code]float64{}
	for c, amount := range raw {
		d.set(c, amount)
	}
	return nil
}

// NewDebt returns an empty debt record.
func NewDebt() *Debt {
	return &Debt{amounts: map[Code]float64{}}
}

// Clone returns a deep copy.
func (d *Debt) Clone() *Debt {
	out := NewDebt()
	if d == nil {
		return out
	}
	for c, a := range d.amounts {
		out.amounts[c] = a
	}
	return out
}

// Get returns the outstanding amount for c, or 0 if none is owed.
func (d *Debt) Get(c Code) float64 {
	if d == nil {
		return 0
	}
	return d.amounts[c]
}

// Add increases the debt for c by amount, which may be negative (used by
// burn/repay paths). The entry is dropped once it reaches zero or below.
func (d *Debt) Add(c Code, amount float64) {
	if d == nil {
		return
	}
	next := d.amounts[c] + amount
	d.set(c, next)
}

// Set overwrites the debt for c, dropping the key if the result is not
// strictly positive.
func (d *Debt) Set(c Code, amount float64) {
	if d == nil {
		return
	}
	d.set(c, amount)
}

func (d *Debt) set(c Code, amount float64) {
	if amount <= 0 {
		delete(d.amounts, c)
		return
	}
	d.amounts[c] = amount
}

// Currencies returns the set of currencies with a positive outstanding debt.
func (d *Debt) Currencies() []Code {
	if d == nil {
		return nil
	}
	out := make([]Code, 0, len(d.amounts))
	for c := range d.amounts {
		out = append(out, c)
	}
	return out
}

// Empty reports whether no currency carries outstanding debt.
func (d *Debt) Empty() bool {
	return d == nil || len(d.amounts) == 0
}

// TotalInUSD sums every currency's debt converted to USD via the supplied
// rate table, treating USD itself as 1.
func (d *Debt) TotalInUSD(rates *Table) (float64, error) {
	if d == nil {
		return 0, nil
	}
	var total float64
	for c, amount := range d.amounts {
		rate, err := rates.ToUSDRate(c)
		if err != nil {
			return 0, err
		}
		total += amount * rate
	}
	return total, nil
}
