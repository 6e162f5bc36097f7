package qmresults

import "fmt"

// FinalShape derives the shape of an assembled result from the number of
// items received and the declared per-item shape: a single item keeps the
// per-item shape, a trivial per-item shape of (1,) collapses to (count,),
// and anything else gains a leading count dimension.
func FinalShape(count int, shape []int) []int {
	if count == 1 {
		return append([]int(nil), shape...)
	}
	if len(shape) == 1 && shape[0] == 1 {
		return []int{count}
	}
	return append([]int{count}, shape...)
}

// AssertNoDataloss fails if the header reports data loss.
func AssertNoDataloss(h NamedResultHeader, jobID string) error {
	if h.HasDataloss {
		return &DataLossError{JobID: jobID}
	}
	return nil
}

// Assemble turns accumulated item bytes into a typed array. A header that
// reports data loss fails before any byte of buf is looked at.
func Assemble(count int, h NamedResultHeader, jobID string, buf []byte) (*Array, error) {
	if err := AssertNoDataloss(h, jobID); err != nil {
		return nil, err
	}
	dt, err := ParseDtype(h.DtypeDescriptor)
	if err != nil {
		return nil, err
	}
	hdr, err := EncodeHeader(FinalShape(count, h.Shape), dt.Canonical())
	if err != nil {
		return nil, err
	}
	arr, err := Decode(append(hdr, buf...))
	if err != nil {
		return nil, fmt.Errorf("assembling %d items: %w", count, err)
	}
	return arr, nil
}
