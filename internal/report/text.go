package report

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteText prints a short human-readable digest of the summary.
func WriteText(w io.Writer, s *Summary) error {
	p := message.NewPrinter(language.English)
	var b strings.Builder
	p.Fprintf(&b, "Units scored:   %d\n", s.Units)
	p.Fprintf(&b, "Exclusions:     %d\n", len(s.Exclusions))
	p.Fprintf(&b, "TRVI rule:      %s\n", s.Rule)

	if len(s.Weights) > 0 {
		p.Fprintf(&b, "\nEntropy weights\n")
		for _, wr := range s.Weights {
			p.Fprintf(&b, "  %-24s %.4f\n", wr.Indicator, wr.Weight)
		}
	}

	if len(s.Moran) > 0 {
		p.Fprintf(&b, "\nGlobal Moran's I\n")
		for _, m := range s.Moran {
			if m.Skipped != "" {
				p.Fprintf(&b, "  %-24s skipped: %s\n", m.Variable, m.Skipped)
				continue
			}
			p.Fprintf(&b, "  %-24s I=%.4f p_sim=%.4f %s\n", m.Variable, m.I, m.PSim, m.Class)
		}
	}

	if s.GWR != nil {
		p.Fprintf(&b, "\nGWR (%s, bandwidth %.2f): AICc %.2f, R² %.3f, global R² %.3f\n",
			s.GWR.Kernel, s.GWR.Bandwidth, s.GWR.AICc, s.GWR.R2, s.GWR.Global.R2)
	}

	if len(s.Top) > 0 {
		p.Fprintf(&b, "\nMost vulnerable units\n")
		for _, r := range s.Top {
			if r.MHI != nil {
				p.Fprintf(&b, "  %2d. %-12s TRVI %.3f  UTRI %.3f  MHI $%d\n", r.Rank, r.GEOID, r.TRVI, r.UTRI, int64(*r.MHI))
			} else {
				p.Fprintf(&b, "  %2d. %-12s TRVI %.3f  UTRI %.3f\n", r.Rank, r.GEOID, r.TRVI, r.UTRI)
			}
		}
	}

	for _, e := range s.Errors {
		p.Fprintf(&b, "\n%s failed (%s): %s\n", e.Stage, e.Kind, e.Message)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "report: write text")
	}
	return nil
}
