package types

import "fmt"

// LookupMissError is returned by strict name/mint lookups when nothing matches.
type LookupMissError struct {
	What string
	Key  string
}

func (e *LookupMissError) Error() string {
	return fmt.Sprintf("%s lookup miss: no match for %q", e.What, e.Key)
}

// LookupAmbiguousError is returned by strict name/mint lookups when more
// than one candidate matches.
type LookupAmbiguousError struct {
	What  string
	Key   string
	Count int
}

func (e *LookupAmbiguousError) Error() string {
	return fmt.Sprintf("%s lookup ambiguous: %d matches for %q", e.What, e.Count, e.Key)
}
