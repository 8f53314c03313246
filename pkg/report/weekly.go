package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/RNA4219/llm-generic-bot/pkg/metrics"
)

// JobName is the weekly report's own job name; the aggregator excludes it
// from the overall success rate.
const JobName = "weekly_report"

const defaultTemplate = `週間レポート {{.WindowStart.Format "2006-01-02"}} 〜 {{.WindowEnd.Format "2006-01-02"}}
成功率: {{printf "%.1f%%" (mul .SuccessRate 100)}}
{{range .Jobs}}- {{.Name}}: sent={{.Sent}} denied={{.Denied}} failed={{.Failed}} p50={{printf "%.3fs" .LatencyP50}} p95={{printf "%.3fs" .LatencyP95}}
{{end}}{{if .Reasons}}拒否理由: {{range .Reasons}}{{.Name}}={{.Count}} {{end}}{{end}}`

type jobLine struct {
	Name string
	metrics.JobStats
}

type reasonLine struct {
	Name  string
	Count int
}

type templateData struct {
	WindowStart time.Time
	WindowEnd   time.Time
	SuccessRate float64
	Jobs        []jobLine
	Reasons     []reasonLine
}

// Renderer turns a weekly snapshot into the posted text. The template is
// treated opaquely; the default one ships with the bot.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer compiles the template, falling back to the built-in one when
// text is empty.
func NewRenderer(text string) (*Renderer, error) {
	if text == "" {
		text = defaultTemplate
	}
	tmpl, err := template.New("weekly").
		Funcs(template.FuncMap{"mul": func(a, b float64) float64 { return a * b }}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("bad report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the report text. Job and reason lines are sorted so the
// output is stable.
func (r *Renderer) Render(snap metrics.WeeklySnapshot) (string, error) {
	data := templateData{
		WindowStart: snap.WindowStart,
		WindowEnd:   snap.WindowEnd,
		SuccessRate: snap.SuccessRate,
	}
	for name, st := range snap.PerJob {
		data.Jobs = append(data.Jobs, jobLine{Name: name, JobStats: st})
	}
	sort.Slice(data.Jobs, func(i, j int) bool { return data.Jobs[i].Name < data.Jobs[j].Name })
	for name, count := range snap.PermitDenialReasons {
		data.Reasons = append(data.Reasons, reasonLine{Name: name, Count: count})
	}
	sort.Slice(data.Reasons, func(i, j int) bool { return data.Reasons[i].Name < data.Reasons[j].Name })

	var b strings.Builder
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Builder produces the weekly report payload from the live aggregator and
// optionally archives the rendered text.
type Builder struct {
	agg      *metrics.Aggregator
	renderer *Renderer
	archive  Archive
	now      func() time.Time
}

// NewBuilder creates the report builder. archive may be nil.
func NewBuilder(agg *metrics.Aggregator, renderer *Renderer, archive Archive) *Builder {
	return &Builder{agg: agg, renderer: renderer, archive: archive, now: time.Now}
}

func (b *Builder) Name() string { return JobName }

// Build renders the current 7-day snapshot. Archive failures do not block
// the post.
func (b *Builder) Build(ctx context.Context) (string, error) {
	now := b.now()
	text, err := b.renderer.Render(b.agg.Snapshot(now))
	if err != nil {
		return "", err
	}
	if b.archive != nil {
		if _, err := b.archive.Store(ctx, now.Format("2006-01-02"), []byte(text)); err != nil {
			return text, nil
		}
	}
	return text, nil
}
