package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/yhl125/op-soak/op-soak/orchestrator"
)

// WriteSummary prints one row per batch followed by the run totals.
func WriteSummary(w io.Writer, runID string, res orchestrator.Result, colorize bool) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed, color.Bold)
	title := color.New(color.Bold)
	if !colorize {
		ok.DisableColor()
		bad.DisableColor()
		title.DisableColor()
	}
	p := message.NewPrinter(language.English)
	failures := func(n uint64) string {
		if n == 0 {
			return ok.Sprint(n)
		}
		return bad.Sprint(p.Sprintf("%d", n))
	}

	_, _ = title.Fprintf(w, "Run %s\n", runID)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Batch", "Size", "Success", "Failure", "Elapsed", "TPS"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAutoFormatHeaders(false)
	for _, b := range res.Batches {
		table.Append([]string{
			strconv.Itoa(b.Index + 1),
			strconv.Itoa(b.Size),
			strconv.Itoa(b.Success),
			failures(uint64(b.Failure)),
			b.Elapsed.Round(1e6).String(),
			fmt.Sprintf("%.1f", b.TPS),
		})
	}
	table.SetFooter([]string{
		"Total",
		p.Sprintf("%d", res.Total()),
		p.Sprintf("%d", res.Success),
		failures(res.Failure),
		res.Elapsed.Round(1e6).String(),
		p.Sprintf("%.1f", res.TPS()),
	})
	table.Render()
}
