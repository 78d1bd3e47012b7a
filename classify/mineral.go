package classify

import "strconv"

// MineralProfile carries the mineralogical notes attached to a reference
// label through its metadata.
type MineralProfile struct {
	Group               string  `json:"group,omitempty"`
	Formula             string  `json:"formula,omitempty"`
	AlterationType      string  `json:"alterationType,omitempty"`
	DiagnosticFeatureNm float64 `json:"diagnosticFeatureNm,omitempty"`
	Crystallinity       float64 `json:"crystallinity,omitempty"`
	Hydrated            bool    `json:"hydrated,omitempty"`
	EconomicRelevance   string  `json:"economicRelevance,omitempty"`
}

func (m MineralProfile) empty() bool {
	return m == MineralProfile{}
}

// ExtractMineralProfile reads mineral fields from prediction metadata.
func ExtractMineralProfile(prediction Prediction) MineralProfile {
	mp := MineralProfile{}
	if prediction.Metadata == nil {
		return mp
	}

	mp.Group = prediction.Metadata["mineral_group"]
	mp.Formula = prediction.Metadata["formula"]
	mp.AlterationType = prediction.Metadata["alteration"]
	mp.EconomicRelevance = prediction.Metadata["economic_relevance"]

	if val, ok := prediction.Metadata["diagnostic_feature_nm"]; ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			mp.DiagnosticFeatureNm = f
		}
	}
	if val, ok := prediction.Metadata["crystallinity"]; ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			mp.Crystallinity = f
		}
	}
	if val, ok := prediction.Metadata["hydrated"]; ok {
		mp.Hydrated = val == "true" || val == "yes" || val == "1"
	}
	return mp
}
