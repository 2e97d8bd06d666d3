package model

// Insights is the mock analysis payload attached to convert_plus_insights jobs.
type Insights struct {
	Summary        string          `json:"summary"`
	KeyFields      []KeyField      `json:"keyFields"`
	RedactionHints []RedactionHint `json:"redactionHints"`
	QualityScore   QualityScore    `json:"qualityScore"`
}

type KeyField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type RedactionHint struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type QualityScore struct {
	Layout        int `json:"layout"`
	TextIntegrity int `json:"textIntegrity"`
	Overall       int `json:"overall"`
}

func (i *Insights) Clone() *Insights {
	if i == nil {
		return nil
	}
	tmp := *i
	tmp.KeyFields = append([]KeyField(nil), i.KeyFields...)
	tmp.RedactionHints = append([]RedactionHint(nil), i.RedactionHints...)
	return &tmp
}
