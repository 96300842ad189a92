package model

// Unlimited marks a cap that does not apply.
const Unlimited = -1

// Free-tier caps applied when no active paid license is found.
const (
	FreeMaxPDFFiles  = 5
	FreeMaxBatchSize = 10
	FreeMaxImages    = 20
)

// Limits is the capability set the feature gate derives from license state.
type Limits struct {
	Tier         string `json:"tier"`
	IsPro        bool   `json:"is_pro"`
	MaxPDFFiles  int    `json:"max_pdf_files"`
	MaxBatchSize int    `json:"max_batch_size"`
	MaxImages    int    `json:"max_images"`
	ProFeatures  bool   `json:"pro_features"`
}

// FreeLimits returns the caps for callers without a paid license.
func FreeLimits() Limits {
	return Limits{
		Tier:         TierFree,
		MaxPDFFiles:  FreeMaxPDFFiles,
		MaxBatchSize: FreeMaxBatchSize,
		MaxImages:    FreeMaxImages,
	}
}

// ProLimits returns unlimited caps for the given paid tier.
func ProLimits(tier string) Limits {
	return Limits{
		Tier:         tier,
		IsPro:        true,
		MaxPDFFiles:  Unlimited,
		MaxBatchSize: Unlimited,
		MaxImages:    Unlimited,
		ProFeatures:  true,
	}
}

// FeatureStatus summarises which tool features a caller may use.
type FeatureStatus struct {
	IsPro                 bool `json:"is_pro"`
	CanUseBatch           bool `json:"can_use_batch"`
	CanUseUnlimitedPDF    bool `json:"can_use_unlimited_pdf"`
	CanUseUnlimitedImages bool `json:"can_use_unlimited_images"`
	HasWatermarkFeature   bool `json:"has_watermark_feature"`
	HasCompressionFeature bool `json:"has_compression_feature"`
}

// Features derives the feature status from limits.
func (l Limits) Features() FeatureStatus {
	return FeatureStatus{
		IsPro:                 l.IsPro,
		CanUseBatch:           l.IsPro,
		CanUseUnlimitedPDF:    l.MaxPDFFiles == Unlimited,
		CanUseUnlimitedImages: l.MaxImages == Unlimited,
		HasWatermarkFeature:   l.ProFeatures,
		HasCompressionFeature: l.ProFeatures,
	}
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Limit   int    `json:"limit"`
	Reason  string `json:"reason,omitempty"`
}
