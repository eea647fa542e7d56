// Package transcript folds raw recognition segments into readable,
// paragraph-grouped transcript text.
package transcript

import (
	"fmt"
	"strings"
)

// UnableToTranscribe is returned whenever no usable speech was recognized.
// Callers always get a human-visible message, never an empty string.
const UnableToTranscribe = "Unable to transcribe audio."

// ClusterUnassigned marks a segment with no speaker cluster.
const ClusterUnassigned = -1

// Segment is one time-bounded span of recognized speech.
type Segment struct {
	Start     float64   // seconds
	End       float64   // seconds
	Text      string
	Embedding []float64 // optional voice embedding for this span
	Cluster   int       // assigned speaker cluster, or ClusterUnassigned
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// LabeledSegment is a span already attributed to a named speaker, as
// delivered by the meeting bot service.
type LabeledSegment struct {
	Speaker string
	Text    string
}

// Normalize merges consecutive same-cluster segments into Speaker-labeled
// paragraphs and appends a distinct-speaker summary line. Cluster ids are
// 0-based internally and shown 1-based. When no segment carries a cluster,
// the plain concatenated text is returned with no labels; that degraded
// shape is a supported output, not an error. The returned speaker list is
// empty in degraded mode.
func Normalize(segments []Segment, numSpeakers int) (string, []string) {
	valid := segments[:0:0]
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) != "" {
			valid = append(valid, seg)
		}
	}
	if len(valid) == 0 {
		return UnableToTranscribe, nil
	}

	clustered := numSpeakers > 0
	for _, seg := range valid {
		if seg.Cluster == ClusterUnassigned {
			clustered = false
			break
		}
	}
	if !clustered {
		return plainText(valid), nil
	}

	var paragraphs []string
	current := valid[0].Cluster
	var buf strings.Builder
	buf.WriteString(strings.TrimSpace(valid[0].Text))

	flush := func(cluster int) {
		paragraphs = append(paragraphs, fmt.Sprintf("Speaker %d: %s", cluster+1, buf.String()))
		buf.Reset()
	}

	for _, seg := range valid[1:] {
		if seg.Cluster == current {
			buf.WriteString(" ")
			buf.WriteString(strings.TrimSpace(seg.Text))
			continue
		}
		flush(current)
		current = seg.Cluster
		buf.WriteString(strings.TrimSpace(seg.Text))
	}
	flush(current)

	var out strings.Builder
	out.WriteString(strings.Join(paragraphs, "\n"))
	out.WriteString(fmt.Sprintf("\n\n[Total Speakers: %d]", numSpeakers))

	speakers := make([]string, numSpeakers)
	for i := range speakers {
		speakers[i] = fmt.Sprintf("Speaker %d", i+1)
	}
	return out.String(), speakers
}

func plainText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, strings.TrimSpace(seg.Text))
	}
	return strings.Join(parts, " ")
}

// FormatLabeled merges consecutive same-speaker bot segments into
// "Name: text" paragraphs separated by blank lines, and returns the distinct
// speakers in order of first appearance.
func FormatLabeled(segments []LabeledSegment) (string, []string) {
	valid := segments[:0:0]
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) != "" {
			valid = append(valid, seg)
		}
	}
	if len(valid) == 0 {
		return UnableToTranscribe, nil
	}

	var speakers []string
	seen := make(map[string]bool)
	record := func(name string) {
		if !seen[name] {
			seen[name] = true
			speakers = append(speakers, name)
		}
	}

	var paragraphs []string
	current := speakerName(valid[0].Speaker)
	record(current)
	var buf strings.Builder
	buf.WriteString(strings.TrimSpace(valid[0].Text))

	for _, seg := range valid[1:] {
		name := speakerName(seg.Speaker)
		if name == current {
			buf.WriteString(" ")
			buf.WriteString(strings.TrimSpace(seg.Text))
			continue
		}
		paragraphs = append(paragraphs, current+": "+buf.String())
		buf.Reset()
		current = name
		record(current)
		buf.WriteString(strings.TrimSpace(seg.Text))
	}
	paragraphs = append(paragraphs, current+": "+buf.String())

	return strings.Join(paragraphs, "\n\n"), speakers
}

func speakerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown Speaker"
	}
	return name
}
