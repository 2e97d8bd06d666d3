package model

// Document formats
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
	FormatMD   Format = "md"
	FormatRTF  Format = "rtf"
	FormatCSV  Format = "csv"
)

var ValidFormats = []Format{
	FormatPDF, FormatDOCX, FormatTXT, FormatHTML, FormatMD, FormatRTF, FormatCSV,
}

// IsValid reports whether f is one of the supported formats.
func (f Format) IsValid() bool {
	for _, v := range ValidFormats {
		if f == v {
			return true
		}
	}
	return false
}

// IsPlainText reports whether f belongs to the plain-text family.
func (f Format) IsPlainText() bool {
	return f == FormatTXT || f == FormatMD || f == FormatCSV
}

// ContentType returns the MIME type served for a converted artifact.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatTXT:
		return "text/plain; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMD:
		return "text/markdown; charset=utf-8"
	case FormatRTF:
		return "application/rtf"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Rendering presets
type Preset string

const (
	PresetResumeSafe Preset = "resume-safe"
	PresetPrintSafe  Preset = "print-safe"
	PresetMobileSafe Preset = "mobile-safe"
)

var ValidPresets = []Preset{
	PresetResumeSafe, PresetPrintSafe, PresetMobileSafe,
}

// Analysis modes
type AnalysisMode string

const (
	AnalysisConvertOnly         AnalysisMode = "convert_only"
	AnalysisConvertPlusInsights AnalysisMode = "convert_plus_insights"
)

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Progress checkpoints written by the orchestrator.
const (
	ProgressQueued    = 0
	ProgressStarted   = 10
	ProgressConverted = 85
	ProgressDone      = 100
)
