package qa

import (
	"regexp"
	"strconv"
	"strings"
)

// Numeric extraction from free-form tool text is best-effort pattern
// matching. Unparsable output from a failing tool is treated as failing
// (fail-closed, never fail-open).

var (
	// pytest-style summary: "12 passed", "3 failed"
	passedRe = regexp.MustCompile(`(\d+) passed`)
	failedRe = regexp.MustCompile(`(\d+) failed`)

	// coverage summary total line: "TOTAL     120     12    90%"
	coverageRe = regexp.MustCompile(`TOTAL\s+\d+\s+\d+\s+(\d+)%`)
)

// CountErrorLines counts lines mentioning "error" (case-insensitive).
// If the tool exited non-zero and no error line was recognized, the count
// is forced to at least one so garbage output can never pass the gate.
func CountErrorLines(output string, exitCode int) int {
	n := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "error") {
			n++
		}
	}
	if exitCode != 0 && n == 0 {
		n = 1
	}
	return n
}

// ParseTestCounts extracts passed/failed counts from test runner output.
// A failing run whose output yields no failure count reports one failure.
func ParseTestCounts(output string, exitCode int) (passed, failed int) {
	if m := passedRe.FindStringSubmatch(output); m != nil {
		passed, _ = strconv.Atoi(m[1])
	}
	if m := failedRe.FindStringSubmatch(output); m != nil {
		failed, _ = strconv.Atoi(m[1])
	}
	if exitCode != 0 && failed == 0 {
		failed = 1
	}
	return passed, failed
}

// ParseCoverage extracts the coverage percentage from the most recent
// summary total line. Absence yields 0.
func ParseCoverage(output string) float64 {
	matches := coverageRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0
	}
	// The last TOTAL line is the most recent summary.
	v, _ := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	return v
}
