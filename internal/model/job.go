package model

import "time"

// Job is the full lifecycle record of one conversion request.
type Job struct {
	ID                string       `json:"id"`
	OriginalName      string       `json:"originalName"`
	OriginalLocation  string       `json:"originalLocation"`
	SourceFormat      Format       `json:"sourceFormat"`
	TargetFormat      Format       `json:"targetFormat"`
	Preset            Preset       `json:"preset,omitempty"`
	AnalysisMode      AnalysisMode `json:"analysisMode"`
	AnalysisConsent   bool         `json:"analysisConsent"`
	Status            JobStatus    `json:"status"`
	Progress          int          `json:"progress"`
	ConvertedLocation string       `json:"convertedLocation,omitempty"`
	FailureReason     string       `json:"failureReason,omitempty"` // internal diagnostic, never sent to clients
	Insights          *Insights    `json:"insights,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	ExpiresAt         time.Time    `json:"expiresAt"`
}

// WantsInsights reports whether the job opted into the insights payload.
func (j *Job) WantsInsights() bool {
	return j.AnalysisMode == AnalysisConvertPlusInsights && j.AnalysisConsent
}

// Expired reports whether the job is past its TTL at now.
func (j *Job) Expired(now time.Time) bool {
	return !j.ExpiresAt.After(now)
}

// Clone returns a deep copy safe to hand out of a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	tmp := *j
	if j.Insights != nil {
		tmp.Insights = j.Insights.Clone()
	}
	return &tmp
}
