package engine

// Params collects every retrieval tunable in one immutable value constructed
// once and injected into the engine. Weights sum to 1.0 by convention; the
// engine does not validate or renormalize them — an off-convention config is
// the caller's responsibility.
type Params struct {
	// BulkThreshold is the active-record count at or below which every active
	// record is returned verbatim with no embedding call. Inclusive: a count
	// equal to the threshold still takes the bulk path.
	BulkThreshold int

	// MaxContextualResults caps how many ranked contextual records join the
	// output after the core tier.
	MaxContextualResults int

	// MinScore is the composite score below which a contextual record is
	// dropped.
	MinScore float64

	// HalfLifeDays controls recency decay: a record updated exactly one
	// half-life ago scores 0.5.
	HalfLifeDays float64

	SemanticWeight   float64
	RecencyWeight    float64
	ImportanceWeight float64

	// DefaultSemanticScore is applied to records with no stored embedding
	// (and to dimensionality anomalies): moderately relevant, not excluded.
	DefaultSemanticScore float64

	// DefaultImportance is a placeholder for a future per-record importance
	// signal.
	DefaultImportance float64

	// CoreOnlyOnEmbedderError selects the degradation policy when the query
	// embedding cannot be obtained: false fails the whole call with a
	// DependencyError, true returns the core tier alone.
	CoreOnlyOnEmbedderError bool
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		BulkThreshold:        30,
		MaxContextualResults: 10,
		MinScore:             0.3,
		HalfLifeDays:         30,
		SemanticWeight:       0.6,
		RecencyWeight:        0.3,
		ImportanceWeight:     0.1,
		DefaultSemanticScore: 0.5,
		DefaultImportance:    0.5,
	}
}
