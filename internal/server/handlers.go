package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/dispatcher"
)

// maxRequestBody caps an inbound JSON-RPC envelope.
const maxRequestBody = 1 << 20

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc(s.cfg.A2APath, s.handleA2A())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/agent.json", s.handleAgentCard())
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard())
	mux.HandleFunc("/openapi.json", s.handleOpenAPI())
	mux.HandleFunc("/docs", s.handleDocs())
	return withCORS(mux)
}

// withCORS allows browser clients from any origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+a2a.VersionHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}

// handleA2A serves the JSON-RPC endpoint.
func (s *Server) handleA2A() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			detail := "failed to read request body"
			if errors.As(err, &tooLarge) {
				detail = fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
			}
			s.writeRPC(w, a2a.NewErrorResponse(a2a.RequestID{}, a2a.InvalidRequest(detail)), http.StatusBadRequest)
			return
		}

		var opts []dispatcher.DispatchOption
		if constraint := r.Header.Get(a2a.VersionHeader); constraint != "" {
			opts = append(opts, dispatcher.WithVersionConstraint(constraint))
		}
		resp, status := s.disp.Dispatch(r.Context(), body, opts...)
		s.writeRPC(w, resp, status)
	}
}

// writeRPC writes a response envelope; lenient mode sends every error with 200.
func (s *Server) writeRPC(w http.ResponseWriter, resp *a2a.Response, status int) {
	if s.cfg.LenientStatus {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// healthOutput is the /health body.
type healthOutput struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	InFlight     int64             `json:"in_flight"`
	Uptime       string            `json:"uptime"`
	Timestamp    string            `json:"timestamp"`
}

func (s *Server) health(ctx context.Context) *healthOutput {
	out := &healthOutput{
		Status:       "healthy",
		Dependencies: make(map[string]string, len(s.checks)),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if !s.startedAt.IsZero() {
		out.Uptime = time.Since(s.startedAt).Truncate(time.Second).String()
	}
	if s.disp != nil {
		out.InFlight = s.disp.InFlight()
	}
	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			out.Dependencies[c.name] = "error: " + err.Error()
			out.Status = "unhealthy"
			continue
		}
		out.Dependencies[c.name] = "ok"
	}
	return out
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.health(ctx)
		status := http.StatusOK
		if h.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}

// agentCard is the discovery manifest.
type agentCard struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities"`
	Endpoints    []agentEndpoint `json:"endpoints"`
	Features     agentFeatures   `json:"features"`
	Protocol     agentProtocol   `json:"protocol"`
}

type agentEndpoint struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Protocol    string   `json:"protocol,omitempty"`
	Methods     []string `json:"methods,omitempty"`
}

type agentFeatures struct {
	SupportedAssets []string          `json:"supported_assets"`
	AnalysisTypes   []string          `json:"analysis_types"`
	Caching         map[string]string `json:"caching"`
}

type agentProtocol struct {
	Version         string `json:"version"`
	JSONRPC         string `json:"jsonrpc"`
	BlockingMode    bool   `json:"blocking_mode"`
	NonBlockingMode bool   `json:"non_blocking_mode"`
	WebhookSupport  bool   `json:"webhook_support"`
}

const agentDescription = "Real-time market analysis agent for cryptocurrencies and forex pairs: prices, technical indicators, news and AI-generated outlooks."

func (s *Server) agentCard() agentCard {
	return agentCard{
		Name:        "Market Intelligence Agent",
		Version:     s.cfg.AgentVersion,
		Description: agentDescription,
		Capabilities: []string{
			"Cryptocurrency prices (CoinGecko)",
			"Forex exchange rates (Alpha Vantage)",
			"7-day technical indicators",
			"Crypto and forex news aggregation",
			"AI market outlook with rule-based fallback",
			"Market-wide summary with top and worst performers",
			"Non-blocking tasks with webhook delivery",
		},
		Endpoints: []agentEndpoint{
			{
				Method:      http.MethodPost,
				Path:        s.cfg.A2APath,
				Description: "A2A endpoint for market analysis",
				Protocol:    "JSON-RPC 2.0",
				Methods:     []string{a2a.MethodMessageSend, a2a.MethodExecute, a2a.MethodMarketSummary},
			},
			{Method: http.MethodGet, Path: "/health", Description: "Health check with dependency status"},
			{Method: http.MethodGet, Path: "/agent.json", Description: "Agent manifest"},
			{Method: http.MethodGet, Path: "/openapi.json", Description: "OpenAPI description of the A2A endpoint"},
		},
		Features: agentFeatures{
			SupportedAssets: []string{"Cryptocurrencies (BTC, ETH, SOL, ...)", "Forex pairs (EUR/USD, GBP/USD, ...)"},
			AnalysisTypes:   []string{"Price tracking", "Technical analysis", "News aggregation", "Market sentiment", "AI insights"},
			Caching: map[string]string{
				"price_data":  "60 seconds",
				"forex_rates": "60 seconds",
				"news_data":   "300 seconds",
			},
		},
		Protocol: agentProtocol{
			Version:         "A2A/1.0",
			JSONRPC:         a2a.Version,
			BlockingMode:    true,
			NonBlockingMode: true,
			WebhookSupport:  true,
		},
	}
}

func (s *Server) handleAgentCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, http.StatusOK, s.agentCard())
	}
}

// homePageTemplate is the HTML status page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Card.Name}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>{{.Card.Name}}</h1>
  <p class="meta">{{.Card.Description}} Version {{.Card.Version}}. <a href="/docs">API docs</a></p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    {{range $name, $state := .Health.Dependencies}}
    <p>{{$name}}: {{if eq $state "ok"}}<span class="stat">OK</span>{{else}}<span class="error">{{$state}}</span>{{end}}</p>
    {{end}}
    <p>Uptime: {{.Health.Uptime}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Tasks</h2>
    <p>Background tasks in flight: <span class="stat">{{.Health.InFlight}}</span></p>
    {{if .TasksError}}
    <p class="error">Could not load task statistics: {{.TasksError}}</p>
    {{else if .Tasks}}
    <table>
      <thead><tr><th>State</th><th>Count</th></tr></thead>
      <tbody>
        {{range .Tasks}}<tr><td>{{.State}}</td><td>{{.Count}}</td></tr>{{end}}
      </tbody>
    </table>
    {{else}}
    <p>No tasks recorded.</p>
    {{end}}
  </section>

  <section>
    <h2>Endpoints</h2>
    <table>
      <thead><tr><th>Method</th><th>Path</th><th>Description</th><th>JSON-RPC methods</th></tr></thead>
      <tbody>
        {{range .Card.Endpoints}}
        <tr>
          <td>{{.Method}}</td>
          <td>{{.Path}}</td>
          <td>{{.Description}}</td>
          <td>{{range .Methods}}{{.}} {{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
  </section>
</body>
</html>
`

type taskCount struct {
	State string
	Count int
}

// homeData is the data passed to the home page template.
type homeData struct {
	Card       agentCard
	Health     *healthOutput
	Tasks      []taskCount
	TasksError string
}

// handleHome returns an HTTP handler for the status page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Card: s.agentCard(), Health: s.health(ctx)}
		if s.taskStats != nil {
			counts, err := s.taskStats(ctx)
			if err != nil {
				data.TasksError = err.Error()
			}
			for state, n := range counts {
				data.Tasks = append(data.Tasks, taskCount{State: state, Count: n})
			}
			sort.Slice(data.Tasks, func(i, j int) bool { return data.Tasks[i].State < data.Tasks[j].State })
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

func (s *Server) handleOpenAPI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, http.StatusOK, buildOpenAPISpec(s.cfg.A2APath, s.cfg.AgentVersion))
	}
}

// swaggerUIPage is the HTML that embeds Swagger UI from CDN and loads the OpenAPI spec.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Name}} API docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIBundle.SwaggerUIStandalonePreset
        ]
      });
    };
  </script>
</body>
</html>
`

func (s *Server) handleDocs() http.HandlerFunc {
	tmpl := template.Must(template.New("swagger").Parse(swaggerUIPage))
	return func(w http.ResponseWriter, r *http.Request) {
		// Absolute spec URL from the request host so Swagger UI can fetch it.
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		specURL := scheme + "://" + r.Host + "/openapi.json"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, map[string]string{"Name": "Market Intelligence Agent", "SpecURL": specURL}); err != nil {
			slog.Error(fmt.Sprintf("%s - docs template execute: %v", logPrefix, err))
		}
	}
}
