package agentloop

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// commandSignature computes a deterministic signature for a command call
// (kind + hash of arguments).
func commandSignature(call CommandCall) string {
	h := sha256.Sum256([]byte(strings.Join(call.Args, "\x00")))
	return fmt.Sprintf("%s:%x", call.Kind, h[:8])
}

// DetectLoop checks if the last windowSize signatures follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(sigs []string, windowSize int) bool {
	if windowSize <= 0 || len(sigs) < windowSize {
		return false
	}
	sigs = sigs[len(sigs)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || windowSize == patternLen {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

func loopWarning(window int) string {
	return fmt.Sprintf("Loop detected: the last %d commands follow a repeating pattern and their results have not changed. Try a different approach or answer without running a command.", window)
}
