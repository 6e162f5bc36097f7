package qmresults

import "fmt"

// Selector chooses which items of a named result to fetch. It is either an
// [Index] or a [Slice]; no other implementations exist.
type Selector interface {
	isSelector()
	String() string
}

// Index selects the single item at position i.
type Index int

func (Index) isSelector() {}

func (i Index) String() string { return fmt.Sprintf("%d", int(i)) }

// Slice selects the half-open item range [Start, Stop). A nil Start means
// 0 and a nil Stop means "everything received so far". Step must be nil or 1.
type Slice struct {
	Start *int
	Stop  *int
	Step  *int
}

func (Slice) isSelector() {}

func (s Slice) String() string {
	part := func(p *int) string {
		if p == nil {
			return ""
		}
		return fmt.Sprintf("%d", *p)
	}
	if s.Step != nil {
		return part(s.Start) + ":" + part(s.Stop) + ":" + part(s.Step)
	}
	return part(s.Start) + ":" + part(s.Stop)
}

// All selects every item received so far.
func All() Slice { return Slice{} }

// From selects items from start to the end of what was received.
func From(start int) Slice { return Slice{Start: &start} }

// Range selects items [start, stop).
func Range(start, stop int) Slice { return Slice{Start: &start, Stop: &stop} }

// SliceStep is a fully specified slice. Only a step of 1 can be fetched.
func SliceStep(start, stop, step int) Slice {
	return Slice{Start: &start, Stop: &stop, Step: &step}
}

// FetchRange is a normalized half-open item interval with step 1.
type FetchRange struct {
	Start int
	Stop  int
}

// Len is the number of items in the range.
func (r FetchRange) Len() int { return r.Stop - r.Start }

// Normalize turns a selector into a concrete range using the header's
// current item count for an open-ended stop. It performs no I/O.
func Normalize(name string, sel Selector, h NamedResultHeader) (FetchRange, error) {
	switch s := sel.(type) {
	case Index:
		i := int(s)
		if i < 0 {
			return FetchRange{}, &InvalidRangeError{Name: name, Reason: fmt.Sprintf("negative index %d", i)}
		}
		return FetchRange{Start: i, Stop: i + 1}, nil
	case Slice:
		if s.Step != nil && *s.Step != 1 {
			return FetchRange{}, &InvalidRangeError{
				Name:   name,
				Reason: fmt.Sprintf("got step=%d, fetch supports step=1 or none in slices", *s.Step),
			}
		}
		start := 0
		if s.Start != nil {
			start = *s.Start
		}
		if start < 0 {
			return FetchRange{}, &InvalidRangeError{Name: name, Reason: fmt.Sprintf("negative start %d", start)}
		}
		if s.Stop == nil {
			// The count can only grow; a start beyond it is simply empty for now.
			return FetchRange{Start: start, Stop: max(start, h.CountSoFar)}, nil
		}
		if *s.Stop < start {
			return FetchRange{}, &InvalidRangeError{Name: name, Reason: fmt.Sprintf("stop %d is before start %d", *s.Stop, start)}
		}
		return FetchRange{Start: start, Stop: *s.Stop}, nil
	case nil:
		return FetchRange{}, &InvalidRangeError{Name: name, Reason: "fetch supports only an index or a slice"}
	}
	return FetchRange{}, &InvalidRangeError{Name: name, Reason: fmt.Sprintf("unsupported selector %T", sel)}
}
