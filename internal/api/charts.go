package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleTrajectoryChart renders the recent cursor path over the target layout.
func (s *Server) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	trace := s.task.Trace()
	layout := s.task.Targets()
	st := s.task.Status()

	pad := 1.0
	cursorPts := make([]opts.ScatterData, 0, len(trace))
	for _, p := range trace {
		cursorPts = append(cursorPts, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	targetPts := make([]opts.ScatterData, 0, len(layout))
	for _, t := range layout {
		targetPts = append(targetPts, opts.ScatterData{
			Name:  string(t.ID),
			Value: []interface{}{t.X, t.Y},
		})
		pad = math.Max(pad, math.Max(math.Abs(t.X), math.Abs(t.Y))+t.Radius)
	}
	pad = math.Ceil(pad*1.1/10) * 10

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cursor Trajectory", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cursor Trajectory", Subtitle: fmt.Sprintf("trial=%d phase=%s samples=%d", st.Trial, st.Phase, len(cursorPts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("targets", targetPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 24}))
	scatter.AddSeries("cursor", cursorPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleOutcomesChart renders successes and failures per condition.
func (s *Server) handleOutcomesChart(w http.ResponseWriter, r *http.Request) {
	outcomes := s.task.Outcomes()
	st := s.task.Status()

	x := make([]string, 0, len(outcomes))
	succ := make([]opts.BarData, 0, len(outcomes))
	fail := make([]opts.BarData, 0, len(outcomes))
	for _, o := range outcomes {
		x = append(x, o.CondID)
		succ = append(succ, opts.BarData{Value: o.Successes})
		fail = append(fail, opts.BarData{Value: o.Failures})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trial Outcomes", Subtitle: fmt.Sprintf("successes=%d failures=%d", st.Successes, st.Failures)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("success", succ, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("failure", fail, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
