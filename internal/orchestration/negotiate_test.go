package orchestration

import (
	"testing"

	"github.com/nucleus/ucl-sync/internal/endpoint"
)

func TestNegotiate(t *testing.T) {
	const (
		batch      = endpoint.UpdateMethodBatchFullSet
		appendOnly = endpoint.UpdateMethodAppendOnly
	)
	m := func(ms ...endpoint.UpdateMethod) []endpoint.UpdateMethod { return ms }

	tests := []struct {
		name    string
		source  []endpoint.UpdateMethod
		sink    []endpoint.UpdateMethod
		prior   bool
		want    endpoint.UpdateMethod
		wantErr bool
	}{
		{name: "sink only batch", source: m(appendOnly, batch), sink: m(batch), want: batch},
		{name: "sink only batch with prior", source: m(appendOnly, batch), sink: m(batch), prior: true, want: batch},
		{name: "both without prior", source: m(appendOnly, batch), sink: m(appendOnly, batch), want: batch},
		{name: "both with prior", source: m(appendOnly, batch), sink: m(batch, appendOnly), prior: true, want: appendOnly},
		{name: "append only with prior", source: m(appendOnly), sink: m(appendOnly, batch), prior: true, want: appendOnly},
		{name: "append only without prior", source: m(appendOnly), sink: m(appendOnly), want: appendOnly},
		{name: "disjoint", source: m(appendOnly), sink: m(batch), wantErr: true},
		{name: "empty sink", source: m(batch), sink: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.source, tt.sink, tt.prior)
			if tt.wantErr {
				if err == nil || !IsKind(err, KindNegotiation) {
					t.Fatalf("Negotiate() error = %v, want NegotiationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Negotiate() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Negotiate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		code      string
		retryable bool
	}{
		{err: configurationError("missing"), code: CodeConfiguration, retryable: false},
		{err: &Error{Kind: KindSink, Code: CodeSinkWrite}, code: CodeSinkWrite, retryable: true},
		{err: &Error{Kind: KindStatePersistence, Code: CodeStateInconsistent, Inconsistent: true}, code: CodeStateInconsistent, retryable: false},
	}
	for _, tt := range tests {
		code, retryable := Classify(tt.err)
		if code != tt.code || retryable != tt.retryable {
			t.Errorf("Classify(%v) = %s, %v; want %s, %v", tt.err, code, retryable, tt.code, tt.retryable)
		}
	}
}
