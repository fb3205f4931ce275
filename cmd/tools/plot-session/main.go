// Command plot-session renders the cursor paths of a recorded session, one
// colour per trial, over the targets that were presented.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/centerout/internal/db"
	"github.com/banshee-data/centerout/internal/node"
	"github.com/banshee-data/centerout/internal/records"
	"github.com/banshee-data/centerout/internal/security"
	"github.com/banshee-data/centerout/internal/stream"
)

var (
	dbPath    = flag.String("db", "", "SQLite stream store")
	sessionID = flag.String("session", "", "Session id (default: newest)")
	outPath   = flag.String("out", "", "Output PNG (default: session-<id>.png)")
)

func main() {
	flag.Parse()
	if *dbPath == "" {
		log.Fatal("-db is required")
	}

	d, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer d.Close()

	sess, err := pickSession(d, *sessionID)
	if err != nil {
		log.Fatal(err)
	}
	out, err := outputPath(*outPath, sess.ID)
	if err != nil {
		log.Fatalf("invalid output path: %v", err)
	}
	n, err := renderSession(d, sess, out)
	if err != nil {
		log.Fatalf("failed to render session %s: %v", sess.ID, err)
	}
	log.Printf("wrote %s: %d trials of session %s", out, n, sess.ID)
}

// outputPath defaults the plot name from the session id and keeps the
// result under the working or temp directory.
func outputPath(out, id string) (string, error) {
	if out == "" {
		out = fmt.Sprintf("session-%s.png", security.SanitizeFilename(id))
	}
	if err := security.ValidateExportPath(out); err != nil {
		return "", err
	}
	return out, nil
}

func pickSession(d *db.DB, id string) (db.Session, error) {
	if id != "" {
		return d.GetSession(id)
	}
	all, err := d.Sessions()
	if err != nil {
		return db.Session{}, err
	}
	if len(all) == 0 {
		return db.Session{}, errors.New("no sessions recorded")
	}
	return all[0], nil
}

// trialPath is the cursor trace between two trial starts.
type trialPath struct {
	target records.TrialInfo
	points plotter.XYs
}

// splitTrials assigns every cursor record to the latest trial started before
// it. Records before the first trial are dropped.
func splitTrials(infos, cursor []stream.Entry) ([]trialPath, error) {
	var trials []trialPath
	starts := make([]stream.ID, 0, len(infos))
	for _, e := range infos {
		info, err := records.DefaultCodec.DecodeTrialInfo(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("trial_info %d: %w", e.ID, err)
		}
		trials = append(trials, trialPath{target: info})
		starts = append(starts, e.ID)
	}

	k := -1
	for _, e := range cursor {
		for k+1 < len(starts) && starts[k+1] < e.ID {
			k++
		}
		if k < 0 {
			continue
		}
		p, err := records.DefaultCodec.DecodePosition(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("cursor %d: %w", e.ID, err)
		}
		trials[k].points = append(trials[k].points, plotter.XY{X: float64(p.X), Y: float64(p.Y)})
	}
	return trials, nil
}

// renderSession writes the session plot and returns the number of trials.
func renderSession(d *db.DB, sess db.Session, out string) (int, error) {
	infos, err := d.Range(node.StreamTrialInfo, sess.FirstEntryID, sess.LastEntryID)
	if err != nil {
		return 0, err
	}
	cursor, err := d.Range(node.StreamCursor, sess.FirstEntryID, sess.LastEntryID)
	if err != nil {
		return 0, err
	}
	trials, err := splitTrials(infos, cursor)
	if err != nil {
		return 0, err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - %d trials, %d successes", sess.ID, sess.Trials, sess.Successes)
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	seen := make(map[[2]float32]bool)
	var targets plotter.XYs
	var radius float32
	for _, tr := range trials {
		key := [2]float32{tr.target.TargetX, tr.target.TargetY}
		if !seen[key] {
			seen[key] = true
			targets = append(targets, plotter.XY{X: float64(key[0]), Y: float64(key[1])})
			radius = tr.target.TargetRadius
		}
	}
	if len(targets) > 0 {
		sc, err := plotter.NewScatter(targets)
		if err != nil {
			return 0, err
		}
		sc.GlyphStyle.Shape = draw.RingGlyph{}
		sc.GlyphStyle.Radius = vg.Points(float64(radius) / 10)
		sc.GlyphStyle.Color = color.Gray{Y: 96}
		p.Add(sc)
		p.Legend.Add("targets", sc)
	}

	colors := palette(len(trials))
	for i, tr := range trials {
		if len(tr.points) < 2 {
			continue
		}
		line, err := plotter.NewLine(tr.points)
		if err != nil {
			return 0, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, out); err != nil {
		return 0, err
	}
	return len(trials), nil
}

// palette spreads n fully saturated hues around the colour wheel.
func palette(n int) []color.Color {
	out := make([]color.Color, n)
	for i := range out {
		h := float64(i) / float64(n) * 6
		x := uint8(255 * (1 - math.Abs(math.Mod(h, 2)-1)))
		var c color.RGBA
		switch int(h) {
		case 0:
			c = color.RGBA{R: 255, G: x}
		case 1:
			c = color.RGBA{R: x, G: 255}
		case 2:
			c = color.RGBA{G: 255, B: x}
		case 3:
			c = color.RGBA{G: x, B: 255}
		case 4:
			c = color.RGBA{R: x, B: 255}
		default:
			c = color.RGBA{R: 255, B: x}
		}
		c.A = 255
		out[i] = c
	}
	return out
}
