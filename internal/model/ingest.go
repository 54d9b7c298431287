package model

// SourceID names one configured log source. It is the registry key and the
// value carried in every outbound message.
type SourceID string

// LogLine carries one decoded line with the source that produced it.
// It is the contract between a running process and the fan-out layer.
type LogLine struct {
	Source SourceID
	Text   string
}

// Texts returns the bare line texts in order.
func Texts(lines []LogLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}
