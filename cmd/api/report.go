package main

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"

	"github.com/anime-shed/proof-inspector-go/internal/ranking"
	"github.com/anime-shed/proof-inspector-go/internal/service"
	"github.com/anime-shed/proof-inspector-go/pkg/models"
)

var statsHeader = []string{"Profile", "Mean ΔE", "P95 ΔE", "Max ΔE", "% > T1", "% > T2", "Rank", "TAC > limit"}

// writeProfiles renders the registry listing as a markdown table.
func writeProfiles(w io.Writer, profiles []models.ProfileEntry) error {
	md := markdown.NewMarkdown(w)
	md.H1("Color Profiles")
	md.PlainText("")

	if len(profiles) == 0 {
		md.PlainText("No profiles found.")
		return md.Build()
	}

	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		source := "base"
		if p.UserProvided {
			source = "user"
		}
		version := p.Version
		if !p.Valid {
			version = "not an ICC profile"
		}
		rows = append(rows, []string{
			"`" + p.Name + "`",
			p.Description,
			p.DeviceClass,
			p.ColorSpace,
			channels(p.Channels),
			version,
			source,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Name", "Description", "Class", "Color Space", "Channels", "Version", "Source"},
		Rows:   rows,
	})
	return md.Build()
}

// writeAnalysis renders an analysis response as markdown tables.
func writeAnalysis(w io.Writer, resp *service.AnalysisResponse) error {
	md := markdown.NewMarkdown(w)
	md.H1("Proof Analysis")
	md.PlainText("")

	switch resp.Mode {
	case models.ModeBatch:
		rows := make([][]string, 0, len(resp.Batch))
		var succeeded []models.AnalysisResult
		for _, entry := range resp.Batch {
			if !entry.Succeeded() {
				rows = append(rows, append([]string{entry.File, "error: " + entry.Error}, make([]string, len(statsHeader)-1)...))
				continue
			}
			succeeded = append(succeeded, *entry.Result)
			rows = append(rows, append([]string{entry.File}, statsRow(entry.Result)...))
		}
		md.Table(markdown.TableSet{
			Header: append([]string{"File"}, statsHeader...),
			Rows:   rows,
		})
		md.PlainText("")
		md.PlainText(strconv.Itoa(len(succeeded)) + " of " + strconv.Itoa(len(resp.Batch)) + " files analyzed")
		writeSummary(md, succeeded, func(i int) string { return succeededFile(resp.Batch, i) })
	default:
		results := resp.Results
		if resp.Mode == models.ModeSingle && resp.Result != nil {
			results = []models.AnalysisResult{*resp.Result}
		}
		rows := make([][]string, 0, len(results))
		for i := range results {
			rows = append(rows, statsRow(&results[i]))
		}
		md.Table(markdown.TableSet{Header: statsHeader, Rows: rows})
		if len(results) > 1 {
			writeSummary(md, results, func(i int) string { return results[i].Profile.Name })
		}
	}
	return md.Build()
}

func writeSummary(md *markdown.Markdown, results []models.AnalysisResult, label func(int) string) {
	sum := ranking.Summarize(results)
	if sum.Count == 0 {
		return
	}
	md.PlainText("")
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Proofs", strconv.Itoa(sum.Count)},
			{"Mean ΔE (avg)", formatStat(sum.MeanDE)},
			{"Mean ΔE (std dev)", formatStat(sum.StdDevMeanDE)},
			{"Median rank score", formatStat(sum.MedianRankScore)},
			{"Worst max ΔE", formatStat(sum.WorstMaxDE)},
			{"Best", label(sum.Best)},
		},
	})
}

// succeededFile maps an index among successful entries back to its file name
func succeededFile(batch []models.BatchEntry, i int) string {
	for _, entry := range batch {
		if !entry.Succeeded() {
			continue
		}
		if i == 0 {
			return entry.File
		}
		i--
	}
	return ""
}

func statsRow(r *models.AnalysisResult) []string {
	tac := "n/a"
	if r.TAC.Supported && r.TAC.PctGtLimit != nil {
		tac = formatStat(*r.TAC.PctGtLimit) + "%"
	}
	return []string{
		r.Profile.Name,
		formatStat(r.Stats.MeanDE),
		formatStat(r.Stats.P95DE),
		formatStat(r.Stats.MaxDE),
		formatStat(r.Stats.PctDEGtT1) + "%",
		formatStat(r.Stats.PctDEGtT2) + "%",
		formatStat(r.Stats.RankScore),
		tac,
	}
}

func formatStat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func channels(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}
