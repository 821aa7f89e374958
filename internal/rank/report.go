// Copyright (c) 2025-2026 The wescan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rank

import (
	"fmt"
	"io"
	"time"
)

// WriteText renders the ranking as plain text with one endpoint per line.
// An empty ranking renders a single explanatory line rather than nothing so
// the artifact is never ambiguous about whether a scan ran.
func WriteText(w io.Writer, ranking Ranking) error {
	if len(ranking) == 0 {
		_, err := fmt.Fprintln(w, "no healthy endpoints found")
		return err
	}
	for _, entry := range ranking {
		_, err := fmt.Fprintf(w, "%s %.2fms\n", entry.Candidate.Key(),
			float64(entry.Latency)/float64(time.Millisecond))
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteMarkdown renders the ranking as a markdown report with separate IPv4
// and IPv6 sections, keeping at most topN entries per section.  The
// generated timestamp is recorded in UTC.
func WriteMarkdown(w io.Writer, ranking Ranking, generated time.Time, topN int) error {
	_, err := fmt.Fprintf(w, "# WARP Endpoint Scan Results\n\nLast updated on: %s\n",
		generated.UTC().Format("2006-01-02 15:04:05 UTC"))
	if err != nil {
		return err
	}

	v4, v6 := ranking.split()
	if err := writeSection(w, "Top IPv4 Endpoints", "IPv4", v4, topN); err != nil {
		return err
	}
	return writeSection(w, "Top IPv6 Endpoints", "IPv6", v6, topN)
}

// writeSection renders one address-family section of the markdown report.
func writeSection(w io.Writer, title, family string, entries Ranking, topN int) error {
	if _, err := fmt.Fprintf(w, "\n## %s\n", title); err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintf(w, "\n*No suitable %s endpoints were found.*\n",
			family)
		return err
	}
	if len(entries) < topN {
		_, err := fmt.Fprintf(w, "\n*Note: Fewer than %d suitable %s "+
			"endpoints were found (found: %d).*\n", topN, family,
			len(entries))
		if err != nil {
			return err
		}
	} else {
		entries = entries[:topN]
	}

	_, err := fmt.Fprintf(w, "\n| Endpoint | Loss Rate (%%) | Avg. Latency (ms) |\n|---|---|---|\n")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		_, err := fmt.Fprintf(w, "| `%s` | %.2f | %.2f |\n",
			entry.Candidate.Key(), entry.LossRate*100,
			float64(entry.Latency)/float64(time.Millisecond))
		if err != nil {
			return err
		}
	}
	return nil
}
