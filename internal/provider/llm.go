package provider

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed prompts/compare.txt
var comparePrompt string

//go:embed prompts/detect.txt
var detectPrompt string

// comparisonReply is the JSON object the language model answers with.
type comparisonReply struct {
	ReferenceFaceDetected *bool    `json:"reference_face_detected"`
	FaceDetected          bool     `json:"face_detected"`
	Similarity            *float64 `json:"similarity"`
}

// parseComparison validates a model reply. A missing candidate face is
// reported as KindNoFace, everything else malformed is a plain error.
func parseComparison(content string) (float64, error) {
	var reply comparisonReply
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &reply); err != nil {
		return 0, fmt.Errorf("failed to parse comparison JSON: %w (response: %s)", err, content)
	}
	if !reply.FaceDetected {
		return 0, noFace()
	}
	if reply.ReferenceFaceDetected != nil && !*reply.ReferenceFaceDetected {
		return 0, fmt.Errorf("reference image has no detectable face")
	}
	if reply.Similarity == nil {
		return 0, fmt.Errorf("comparison response has no similarity (response: %s)", content)
	}
	s := *reply.Similarity
	if s < 0 || s > 1 {
		return 0, fmt.Errorf("similarity %v out of range", s)
	}
	return s, nil
}

func parseDetection(content string) error {
	var reply comparisonReply
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &reply); err != nil {
		return fmt.Errorf("failed to parse detection JSON: %w (response: %s)", err, content)
	}
	if !reply.FaceDetected {
		return noFace()
	}
	return nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
