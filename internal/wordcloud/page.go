package wordcloud

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"

	"github.com/iantaiahn/topicscraper/internal/topics"
)

type card struct {
	ID    int
	Title string
	Cloud template.HTML
}

type pageData struct {
	URL       string
	Topics    int
	Documents int
	Cards     []card
}

var pageTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Topic Analysis Results - {{.URL}}</title>
<style>
body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; line-height: 1.6; margin: 0; padding: 20px; background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); min-height: 100vh; color: #333; }
.container { max-width: 1200px; margin: 0 auto; background: rgba(255, 255, 255, 0.95); border-radius: 15px; padding: 30px; }
.header { text-align: center; margin-bottom: 40px; border-bottom: 2px solid #eee; }
.url-info { background: #f8f9fa; padding: 15px; border-radius: 8px; margin-bottom: 20px; border-left: 4px solid #667eea; }
.stats { display: flex; justify-content: center; gap: 30px; margin-bottom: 30px; flex-wrap: wrap; }
.stat-item { background: linear-gradient(45deg, #667eea, #764ba2); color: white; padding: 15px 25px; border-radius: 10px; text-align: center; }
.stat-number { font-size: 2em; font-weight: bold; display: block; }
.topics-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(400px, 1fr)); gap: 25px; }
.topic-card { background: white; border-radius: 12px; padding: 25px; border: 1px solid #e9ecef; }
.topic-card h3 { color: #2c3e50; border-bottom: 2px solid #667eea; }
.wordcloud { text-align: center; padding: 20px; background: #f8f9fa; border-radius: 8px; min-height: 120px; display: flex; align-items: center; justify-content: center; flex-wrap: wrap; }
.wordcloud span { display: inline-block; padding: 2px 6px; border-radius: 4px; background: rgba(255, 255, 255, 0.8); }
.footer { text-align: center; margin-top: 40px; color: #6c757d; }
@media (max-width: 768px) { .topics-grid { grid-template-columns: 1fr; } }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1>Topic Analysis Results</h1></div>
<div class="url-info"><strong>Analyzed URL:</strong> <a href="{{.URL}}" target="_blank">{{.URL}}</a></div>
<div class="stats">
<div class="stat-item"><span class="stat-number">{{.Topics}}</span><span>Topics Found</span></div>
<div class="stat-item"><span class="stat-number">{{.Documents}}</span><span>Text Segments</span></div>
</div>
<div class="topics-grid">
{{- range .Cards}}
<div class="topic-card">
<h3>Topic {{.ID}}: {{.Title}}</h3>
<div class="wordcloud">{{.Cloud}}</div>
</div>
{{- end}}
</div>
<div class="footer"><p>Generated with TF-IDF + k-means topic modelling</p></div>
</div>
</body>
</html>
`))

// Page renders the full report. Clouds must come from HTML; cards are ordered
// by topic ID and titled by each topic's top three terms.
func Page(url string, clouds map[string]string, ts []topics.Topic, documents int) (string, error) {
	sorted := append([]topics.Topic(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data := pageData{URL: url, Topics: len(clouds), Documents: documents}
	for _, t := range sorted {
		cloud, ok := clouds[Key(t.ID)]
		if !ok {
			continue
		}
		title := t.Label(3)
		if title == "" {
			title = fmt.Sprintf("Topic %d", t.ID)
		}
		// Clouds are built by Cloud, which escapes every word.
		data.Cards = append(data.Cards, card{ID: t.ID, Title: title, Cloud: template.HTML(cloud)}) //nolint:gosec
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
