package orchestration

import (
	"fmt"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

// Negotiate picks the update method for a run. When both methods are shared,
// append is chosen only if prior state exists. An empty intersection is a
// negotiation error.
func Negotiate(source, sink []endpoint.UpdateMethod, hasPriorState bool) (endpoint.UpdateMethod, error) {
	supported := make(map[endpoint.UpdateMethod]bool, len(sink))
	for _, m := range sink {
		supported[m] = true
	}
	common := map[endpoint.UpdateMethod]bool{}
	for _, m := range source {
		if supported[m] {
			common[m] = true
		}
	}
	if len(common) == 0 {
		return "", &Error{
			Kind: KindNegotiation,
			Code: CodeNegotiation,
			Err:  fmt.Errorf("source supports %v but sink supports %v: no common update method", source, sink),
		}
	}
	if hasPriorState && common[endpoint.UpdateMethodAppendOnly] {
		return endpoint.UpdateMethodAppendOnly, nil
	}
	if common[endpoint.UpdateMethodBatchFullSet] {
		return endpoint.UpdateMethodBatchFullSet, nil
	}
	// Append is the only shared method. Without prior state there is no
	// offset to resume from, so the run appends everything.
	return endpoint.UpdateMethodAppendOnly, nil
}
