package server

import (
	"fmt"
	"net/http"

	"github.com/voyagen/crowdqueue/api"
	"gopkg.in/yaml.v3"
)

func handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

// handleOpenAPIJSON serves the same document converted to JSON for
// tooling that does not read YAML.
func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, _ *http.Request) {
	var doc map[string]any
	if err := yaml.Unmarshal(api.OpenAPISpec, &doc); err != nil {
		s.log.Error("openapi document is not valid YAML")
		writeErr(w, http.StatusInternalServerError, "openapi document unavailable", "internal")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>crowdqueue API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>html{box-sizing:border-box;overflow-y:scroll}*,*:before,*:after{box-sizing:inherit}body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/docs/openapi.yaml",
      dom_id: "#swagger-ui",
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
      layout: "BaseLayout",
    });
  </script>
</body>
</html>`
