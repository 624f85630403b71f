package xwalk

// EventAnalysisComplete is the only engine event the router acts on.
const EventAnalysisComplete = "ANALYSIS_COMPLETE"

// MessageKind classifies one decoded line of engine output.
type MessageKind int

const (
	// KindUnparseable marks a line that is not valid JSON, such as model
	// loading banners printed by the engine.
	KindUnparseable MessageKind = iota

	// KindUnrecognized marks valid JSON that is not an ANALYSIS_COMPLETE report.
	KindUnrecognized

	// KindAnalysisComplete marks an ANALYSIS_COMPLETE report.
	KindAnalysisComplete
)

func (k MessageKind) String() string {
	switch k {
	case KindUnparseable:
		return "unparseable"
	case KindUnrecognized:
		return "unrecognized"
	case KindAnalysisComplete:
		return "analysis_complete"
	default:
		return "unknown"
	}
}

// Message is the decoded form of one complete line of engine output.
// File and IsDangerous are only meaningful for KindAnalysisComplete.
type Message struct {
	Event       string
	File        string
	Kind        MessageKind
	IsDangerous bool
}
