package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var classLinePattern = regexp.MustCompile(`^(\d+)\s*:\s*(.+)$`)

// ParseClassFile reads a YOLO-style names file:
//
//	names:
//	  0: person
//	  1: bicycle
//
// Lines before the "names:" marker are ignored and class ids may be sparse.
func ParseClassFile(path string) (map[int]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open class file: %w", err)
	}
	defer func() { _ = f.Close() }()

	classes := make(map[int]string)
	inNames := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "names:") {
			inNames = true
			continue
		}
		if !inNames {
			continue
		}
		m := classLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		classes[id] = strings.TrimSpace(m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}
	return classes, nil
}
