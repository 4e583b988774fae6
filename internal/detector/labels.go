package detector

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads the class names a model was trained on, one per line.
// Line n is the label of class id n.
func LoadLabels(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	// Trailing blank lines are not classes
	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", file)
	}

	return labels, nil
}

// labelFor returns the label of classID, or "" when it is out of range.
func labelFor(labels []string, classID int) string {
	if classID < 0 || classID >= len(labels) {
		return ""
	}
	return labels[classID]
}
