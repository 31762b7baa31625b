package endpoint

import (
	"fmt"
	"time"
)

// SinkStateKey addresses persisted state for a package.
type SinkStateKey struct {
	CatalogSlug         string `json:"catalogSlug"`
	PackageSlug         string `json:"packageSlug"`
	PackageMajorVersion int    `json:"packageMajorVersion"`
}

// String renders the key as a path-safe identifier.
func (k SinkStateKey) String() string {
	return fmt.Sprintf("%s/%s/v%d", k.CatalogSlug, k.PackageSlug, k.PackageMajorVersion)
}

// SinkState is the per-package progress a sink persists between runs.
type SinkState struct {
	PackageVersion string                     `json:"packageVersion"`
	Timestamp      time.Time                  `json:"timestamp"`
	StreamSets     map[string]*StreamSetState `json:"streamSets"`
}

// StreamSetState holds per-stream progress for one stream set.
type StreamSetState struct {
	StreamStates map[string]*StreamState `json:"streamStates"`
}

// StreamState records the last fully written hash and per-schema offsets.
type StreamState struct {
	UpdateHash   string                  `json:"updateHash,omitempty"`
	SchemaStates map[string]*SchemaState `json:"schemaStates"`
}

// SchemaState tracks the last offset written for one schema of a stream.
type SchemaState struct {
	LastOffset *int64 `json:"lastOffset,omitempty"`
}

// NewSinkState returns an empty state for a package version.
func NewSinkState(packageVersion string) *SinkState {
	return &SinkState{
		PackageVersion: packageVersion,
		StreamSets:     make(map[string]*StreamSetState),
	}
}

// StreamSet returns the named stream set state, creating it if absent.
func (s *SinkState) StreamSet(slug string) *StreamSetState {
	if s.StreamSets == nil {
		s.StreamSets = make(map[string]*StreamSetState)
	}
	set, ok := s.StreamSets[slug]
	if !ok || set == nil {
		set = &StreamSetState{StreamStates: make(map[string]*StreamState)}
		s.StreamSets[slug] = set
	}
	return set
}

// Lookup returns the stream set state without creating it.
func (s *SinkState) Lookup(slug string) *StreamSetState {
	if s == nil || s.StreamSets == nil {
		return nil
	}
	return s.StreamSets[slug]
}

// Clone returns a deep copy.
func (s *SinkState) Clone() *SinkState {
	if s == nil {
		return nil
	}
	out := &SinkState{
		PackageVersion: s.PackageVersion,
		Timestamp:      s.Timestamp,
		StreamSets:     make(map[string]*StreamSetState, len(s.StreamSets)),
	}
	for slug, set := range s.StreamSets {
		out.StreamSets[slug] = set.Clone()
	}
	return out
}

// Stream returns the named stream state, creating it if absent.
func (s *StreamSetState) Stream(name string) *StreamState {
	if s.StreamStates == nil {
		s.StreamStates = make(map[string]*StreamState)
	}
	st, ok := s.StreamStates[name]
	if !ok || st == nil {
		st = &StreamState{SchemaStates: make(map[string]*SchemaState)}
		s.StreamStates[name] = st
	}
	return st
}

// ClearUpdateHashes drops every stream's hash so the next run re-reads.
func (s *StreamSetState) ClearUpdateHashes() {
	if s == nil {
		return
	}
	for _, st := range s.StreamStates {
		if st != nil {
			st.UpdateHash = ""
		}
	}
}

// Clone returns a deep copy.
func (s *StreamSetState) Clone() *StreamSetState {
	if s == nil {
		return nil
	}
	out := &StreamSetState{StreamStates: make(map[string]*StreamState, len(s.StreamStates))}
	for name, st := range s.StreamStates {
		out.StreamStates[name] = st.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (s *StreamState) Clone() *StreamState {
	if s == nil {
		return nil
	}
	out := &StreamState{
		UpdateHash:   s.UpdateHash,
		SchemaStates: make(map[string]*SchemaState, len(s.SchemaStates)),
	}
	for slug, ss := range s.SchemaStates {
		if ss == nil {
			continue
		}
		cp := &SchemaState{}
		if ss.LastOffset != nil {
			cp.LastOffset = Int64(*ss.LastOffset)
		}
		out.SchemaStates[slug] = cp
	}
	return out
}

// Schema returns the named schema state, creating it if absent.
func (s *StreamState) Schema(slug string) *SchemaState {
	if s.SchemaStates == nil {
		s.SchemaStates = make(map[string]*SchemaState)
	}
	ss, ok := s.SchemaStates[slug]
	if !ok || ss == nil {
		ss = &SchemaState{}
		s.SchemaStates[slug] = ss
	}
	return ss
}

// LastOffset returns the schema's last offset, if any.
func (s *StreamState) LastOffset(schemaSlug string) *int64 {
	if s == nil || s.SchemaStates == nil {
		return nil
	}
	if ss := s.SchemaStates[schemaSlug]; ss != nil {
		return ss.LastOffset
	}
	return nil
}

// NewRecordsAvailable reports whether a stream set may hold records the
// prior run did not write. It is false only when every stream carries a
// hash equal to the one recorded previously.
func NewRecordsAvailable(preview *StreamSetPreview, prior *StreamSetState) bool {
	if preview == nil {
		return false
	}
	if prior == nil {
		return true
	}
	// Iterator-backed previews cannot be compared without opening them.
	if preview.StreamSummaries == nil && preview.MoveToNextStream != nil {
		return true
	}
	for _, summary := range preview.StreamSummaries {
		if summary.UpdateHash == "" {
			return true
		}
		st, ok := prior.StreamStates[summary.Name]
		if !ok || st == nil || st.UpdateHash != summary.UpdateHash {
			return true
		}
	}
	return false
}
