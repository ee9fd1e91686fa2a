// Package memory defines the data model shared by the store, the retrieval
// engine, and the HTTP surface: memory records, the closed category set, and
// the category → group classification.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Category tags a memory record. The set is closed: every category maps to
// exactly one retrieval group, and unknown values are rejected at the write
// path rather than classified by a fallback.
type Category string

const (
	// Core categories — always included in retrieval output.
	CategoryInstruction     Category = "INSTRUCTION"
	CategoryPreference      Category = "PREFERENCE"
	CategoryStyleCorrection Category = "STYLE_CORRECTION"

	// Contextual categories — relevance-filtered and ranked before inclusion.
	CategoryGeneral Category = "GENERAL"
	CategoryContext Category = "CONTEXT"
	CategoryHistory Category = "HISTORY"
)

// Group is a retrieval tier. Core records are always injected; contextual
// records compete on composite score.
type Group int

const (
	GroupAll Group = iota
	GroupCore
	GroupContextual
)

func (g Group) String() string {
	switch g {
	case GroupAll:
		return "all"
	case GroupCore:
		return "core"
	case GroupContextual:
		return "contextual"
	}
	return fmt.Sprintf("group(%d)", int(g))
}

// ParseGroup maps a request string to a Group. Empty means all.
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return GroupAll, nil
	case "core":
		return GroupCore, nil
	case "contextual":
		return GroupContextual, nil
	}
	return GroupAll, fmt.Errorf("unknown group %q", s)
}

// Group returns the retrieval group for the category. ok is false for
// categories outside the closed set; callers must treat that as an error,
// never as membership in either group.
func (c Category) Group() (g Group, ok bool) {
	switch c {
	case CategoryInstruction, CategoryPreference, CategoryStyleCorrection:
		return GroupCore, true
	case CategoryGeneral, CategoryContext, CategoryHistory:
		return GroupContextual, true
	}
	return GroupAll, false
}

// Valid reports whether the category belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := c.Group()
	return ok
}

// CategoriesIn returns the categories belonging to a group.
// GroupAll returns the full closed set.
func CategoriesIn(g Group) []Category {
	switch g {
	case GroupCore:
		return []Category{CategoryInstruction, CategoryPreference, CategoryStyleCorrection}
	case GroupContextual:
		return []Category{CategoryGeneral, CategoryContext, CategoryHistory}
	}
	return []Category{
		CategoryInstruction, CategoryPreference, CategoryStyleCorrection,
		CategoryGeneral, CategoryContext, CategoryHistory,
	}
}

// Record is one durable fact about an agent. Records are written through the
// store's upsert path (keyed by agent + key) and consumed read-only by the
// retrieval engine.
type Record struct {
	AgentID  string   `json:"agent_id"`
	Key      string   `json:"key"`
	Value    string   `json:"value"`
	Category Category `json:"category"`

	// Embedding is nil while the vector has not been computed yet. A non-nil
	// vector whose dimensionality disagrees with the query embedding is a data
	// anomaly the scorer degrades around, not a retrieval failure.
	Embedding      []float64 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HasEmbedding reports whether a vector has been computed for this record.
// nil means "not yet computed"; a non-nil empty slice counts as computed and
// is caught later as a dimensionality anomaly.
func (r *Record) HasEmbedding() bool {
	return r.Embedding != nil
}

// Expired reports whether the record has aged out of the active set.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Entry is the caller-facing shape of one retrieved memory.
type Entry struct {
	Key      string   `json:"key"`
	Value    string   `json:"value"`
	Category Category `json:"category"`
}

// Entry projects the record onto its retrieval output shape.
func (r *Record) Entry() Entry {
	return Entry{Key: r.Key, Value: r.Value, Category: r.Category}
}

const maxKeyLen = 256

// validKeyChar limits keys to lowercase alphanumerics plus - _ . so keys stay
// URL- and log-safe.
func validKeyChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' || ch == '.'
}

// ValidateKey checks a memory key independently of a full record, for read
// and delete paths.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("key exceeds %d characters", maxKeyLen)
	}
	for _, ch := range key {
		if !validKeyChar(ch) {
			return fmt.Errorf("key %q contains invalid character %q", key, ch)
		}
	}
	return nil
}

// Validate checks the record before it enters the store.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return fmt.Errorf("agent_id is required")
	}
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("value is required")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("unknown category %q", r.Category)
	}
	return nil
}
