// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

const landingHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s &mdash; qm results</title>
<style>
  body { font-family: system-ui, -apple-system, sans-serif; max-width: 900px;
         margin: 0 auto; padding: 40px 20px; color: #2c2c1e; background: #faf8f0; }
  h1 { color: #2d5016; margin-bottom: 4px; }
  .meta { color: #6b6b5a; font-size: 0.9em; }
  code { font-family: monospace; background: #f0ece0; padding: 2px 6px;
         border-radius: 3px; font-size: 0.9em; }
  .card { border: 1px solid #f0ece0; border-radius: 8px; padding: 16px 20px;
          margin-bottom: 12px; background: #fff; }
  .method-name { font-family: monospace; font-weight: 600; color: #2d5016; }
  .badge { display: inline-block; padding: 2px 8px; margin-left: 8px; border-radius: 4px;
           font-size: 0.75em; font-weight: 600; text-transform: uppercase; }
  .badge-unary { background: #e8f5e0; color: #2d5016; }
  .badge-stream { background: #e0ecf5; color: #1a4a6b; }
  table { width: 100%%; border-collapse: collapse; font-size: 0.9em; margin-top: 10px; }
  th { text-align: left; padding: 6px 10px; background: #f0ece0; }
  td { padding: 6px 10px; border-bottom: 1px solid #f0ece0; }
  .none { color: #6b6b5a; font-style: italic; font-size: 0.9em; }
</style>
</head>
<body>
<h1>%s</h1>
<p class="meta">server <code>%s</code> &middot; requests are <code>POST %s/&lt;method&gt;</code></p>
<p class="meta">capabilities: %s</p>
%s
</body>
</html>`

// buildLandingHTML renders the server's methods and capabilities.
func buildLandingHTML(s *Server, prefix string) []byte {
	title := s.serviceName
	if title == "" {
		title = "Result service"
	}

	caps := `<span class="none">none</span>`
	if len(s.capabilities) > 0 {
		parts := make([]string, len(s.capabilities))
		for i, c := range s.capabilities {
			parts[i] = "<code>" + html.EscapeString(c) + "</code>"
		}
		caps = strings.Join(parts, " ")
	}

	var cards strings.Builder
	for _, name := range s.availableMethods() {
		buildMethodCard(&cards, s.methods[name])
	}

	return []byte(fmt.Sprintf(landingHTMLTemplate,
		html.EscapeString(title),
		html.EscapeString(title),
		html.EscapeString(s.serverID),
		html.EscapeString(prefix),
		caps,
		cards.String(),
	))
}

func buildMethodCard(w *strings.Builder, info *methodInfo) {
	badgeClass, badgeLabel := "badge-unary", "unary"
	if info.Type == MethodChunkStream {
		badgeClass, badgeLabel = "badge-stream", "chunk stream"
	}
	w.WriteString(`<div class="card">`)
	fmt.Fprintf(w, `<span class="method-name">%s</span><span class="badge %s">%s</span>`,
		html.EscapeString(info.Name), badgeClass, badgeLabel)

	if info.ParamsSchema == nil || info.ParamsSchema.NumFields() == 0 {
		w.WriteString(`<p class="none">No parameters</p>`)
	} else {
		w.WriteString(`<table><tr><th>Parameter</th><th>Type</th></tr>`)
		for _, f := range info.ParamsSchema.Fields() {
			fmt.Fprintf(w, `<tr><td><code>%s</code></td><td><code>%s</code></td></tr>`,
				html.EscapeString(f.Name), html.EscapeString(f.Type.String()))
		}
		w.WriteString(`</table>`)
	}
	w.WriteString("</div>\n")
}

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buildLandingHTML(h.server, h.prefix))
}
