package main

import (
	"fmt"
	"strconv"
	"strings"
)

// queueSpec is one {queue, count} pair parsed from a `-n` flag value.
type queueSpec struct {
	queue string
	count int
}

// parseSpec parses the `-n` flag accepted by `jobs start` and `jobs stop`.
// A bare integer ("3") means 3 workers started without a --queue flag
// (each falls back to the QUEUE setting, which by default matches every
// queue). A
// comma-separated list of queue:count pairs ("default:2,email:1") pins
// workers to distinct queues.
func parseSpec(raw string) ([]queueSpec, error) {
	if raw == "" {
		return []queueSpec{{queue: "", count: 1}}, nil
	}

	if n, err := strconv.Atoi(raw); err == nil {
		if n <= 0 {
			return nil, fmt.Errorf("invalid -n %q: count must be positive", raw)
		}
		return []queueSpec{{queue: "", count: n}}, nil
	}

	var specs []queueSpec
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return nil, fmt.Errorf("invalid -n entry %q: want queue:count", part)
		}
		count, err := strconv.Atoi(pieces[1])
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("invalid -n entry %q: count must be a positive integer", part)
		}
		specs = append(specs, queueSpec{queue: pieces[0], count: count})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("invalid -n %q", raw)
	}
	return specs, nil
}
