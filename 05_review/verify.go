package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"demo-reel-pipeline/types"
)

// requiredKeys must be present in every result file
var requiredKeys = []string{"segment", "passed", "score", "attempts", "started_at", "completed_at"}

// Verify smoke-tests the artifacts of a run: every beat file exists and is non-empty,
// and every result file parses and carries the required keys. It returns the problems found.
func Verify(outDir, resultsDir string, segments []types.Segment) []string {
	var problems []string
	for _, seg := range segments {
		stem := types.FileStem(seg)

		beat := filepath.Join(outDir, stem+".mp4")
		if info, err := os.Stat(beat); err != nil {
			problems = append(problems, fmt.Sprintf("%s: beat file missing", stem))
		} else if info.Size() == 0 {
			problems = append(problems, fmt.Sprintf("%s: beat file is empty", stem))
		}

		resultPath := filepath.Join(resultsDir, stem+".json")
		data, err := os.ReadFile(resultPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: result file missing", stem))
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			problems = append(problems, fmt.Sprintf("%s: result file is not JSON: %v", stem, err))
			continue
		}
		for _, k := range requiredKeys {
			if _, ok := raw[k]; !ok {
				problems = append(problems, fmt.Sprintf("%s: result missing key %q", stem, k))
			}
		}
	}
	return problems
}
