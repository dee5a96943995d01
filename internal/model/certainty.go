package model

// DataSourceCertainty configures how far a source type is trusted.
type DataSourceCertainty struct {
	SourceType           SourceType `json:"source_type" yaml:"source_type"`
	Label                string     `json:"label" yaml:"label"`
	BaseCertainty        float64    `json:"base_certainty" yaml:"base_certainty"`
	CertifiedCertainty   float64    `json:"certified_certainty" yaml:"certified_certainty"`
	RequiredForCertified []string   `json:"required_for_certified" yaml:"required_for_certified"`
}

// CertaintyTable maps each source type to its certainty configuration.
type CertaintyTable map[SourceType]DataSourceCertainty

// CertifiedDataPoint is one feature value with its certainty applied.
type CertifiedDataPoint struct {
	FeatureID            string         `json:"feature_id"`
	FeatureName          string         `json:"feature_name"`
	RawValue             float64        `json:"raw_value"`
	SourceType           SourceType     `json:"source_type"`
	IsCertified          bool           `json:"is_certified"`
	CertaintyCoefficient float64        `json:"certainty_coefficient"`
	WeightedValue        float64        `json:"weighted_value"`
	CertificationDetails map[string]any `json:"certification_details,omitempty"`
}

// FeatureContribution explains one feature's share of a weighted score.
type FeatureContribution struct {
	FeatureID       string  `json:"feature_id"`
	Weight          float64 `json:"weight"`
	RawValue        float64 `json:"raw_value"`
	Certainty       float64 `json:"certainty"`
	RawContribution float64 `json:"raw_contribution"`
	Contribution    float64 `json:"contribution"`
}

// WeightedScore summarizes a set of certified data points.
type WeightedScore struct {
	RawScore         float64               `json:"raw_score"`
	CertifiedScore   float64               `json:"certified_score"`
	OverallCertainty float64               `json:"overall_certainty"`
	Breakdown        []FeatureContribution `json:"breakdown"`
}

// CertificationCheck reports which proofs are still missing.
type CertificationCheck struct {
	IsCertified         bool     `json:"is_certified"`
	MissingRequirements []string `json:"missing_requirements"`
}
