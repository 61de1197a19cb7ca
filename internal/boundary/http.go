package boundary

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/coccobas/agent-memory/internal/apperr"
)

// Server is the HTTP façade over the dispatcher and auth policy.
// Grounded on the teacher's HTTPServer (internal/mcp/http.go): same
// health/writeJSON shape, generalized from the MCP JSON-RPC envelope to
// spec.md §6's external contract: `GET /v1/tools`, `POST /v1/tools/:name`,
// `GET /v1/openapi.json`.
type Server struct {
	Dispatcher *Dispatcher
	Auth       *AuthPolicy
	Logger     *slog.Logger
}

func NewServer(d *Dispatcher, auth *AuthPolicy, logger *slog.Logger) *Server {
	return &Server{Dispatcher: d, Auth: auth, Logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}", s.handleExecute)
	mux.HandleFunc("GET /v1/openapi.json", s.handleOpenAPI)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toolsResponse is spec.md §6's `list()` envelope:
// `{tools:[{name,description,hasActions,actions?}], count}`.
type toolsResponse struct {
	Tools []ToolDefinition `json:"tools"`
	Count int              `json:"count"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	cred := s.Auth.Resolve(r)
	if err := s.Auth.AuthorizeRead(cred); err != nil {
		s.writeError(w, err)
		return
	}
	defs := s.Dispatcher.Registry.Definitions()
	s.writeJSON(w, http.StatusOK, toolsResponse{Tools: defs, Count: len(defs)})
}

// handleExecute is spec.md §6's `execute(name, params)`: the tool name is
// the URL path segment, an optional `?action=` query parameter supplies
// the action for action-based tools, and the request body is the params
// object. Responds with `{success:true,data}` or
// `{success:false,error:{message,code,details?}}`.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	cred := s.Auth.Resolve(r)
	if err := s.Auth.AuthorizeWrite(cred); err != nil {
		s.writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		s.writeError(w, apperr.New(apperr.CodeValidation, "failed to read request body").Wrap(err))
		return
	}
	if !acceptableJSONBody(r, body) {
		s.writeError(w, apperr.New(apperr.CodeUnsupportedMedia, "request body must be JSON"))
		return
	}
	params := json.RawMessage(body)
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	name := r.PathValue("name")
	action, actionProvided := r.URL.Query().Get("action"), r.URL.Query().Has("action")

	result, err := s.Dispatcher.DispatchNamed(r.Context(), name, action, actionProvided, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

// acceptableJSONBody rejects a declared non-JSON content type outright,
// and otherwise requires an empty or well-formed JSON body, per spec.md
// §6's "Non-JSON body → 415".
func acceptableJSONBody(r *http.Request, body []byte) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return false
		}
	}
	if len(body) == 0 {
		return true
	}
	return json.Valid(body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && s.Logger != nil {
		s.Logger.Warn("boundary: failed to encode response", "error", err)
	}
}

// errorStatus maps an apperr.Code to its HTTP status, per spec.md §6's
// external contract (non-JSON body 415, unknown tool 404, validation
// 400, unauthenticated 401, internal 500) extended with the richer
// taxonomy apperr carries internally.
func errorStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeValidation, apperr.CodeMissingAction, apperr.CodeInvalidAction, apperr.CodeInvalidActionType:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeConflict, apperr.CodeFileLocked:
		return http.StatusConflict
	case apperr.CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case apperr.CodeSizeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case apperr.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperr.CodeServiceUnavailable, apperr.CodeCircuitOpen, apperr.CodeEmbeddingUnavail, apperr.CodeExtractionUnavail:
		return http.StatusServiceUnavailable
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	errBody := map[string]any{"message": err.Error(), "code": code}
	if ae, ok := err.(*apperr.Error); ok && len(ae.Context) > 0 {
		errBody["details"] = ae.Context
	}
	s.writeJSON(w, errorStatus(code), map[string]any{"success": false, "error": errBody})
}

// handleOpenAPI serves a minimal, statically-generated OpenAPI 3.0.3
// document describing the tool-execution surface, per spec.md §6's
// "public, OpenAPI 3.0.3, Bearer and API-key schemes declared".
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.openAPIDocument())
}

func (s *Server) openAPIDocument() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Agent Memory Service",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/tools": map[string]any{
				"get": map[string]any{
					"summary": "List every registered tool",
					"responses": map[string]any{
						"200": map[string]any{"description": "The registered tool list"},
					},
				},
			},
			"/v1/tools/{name}": map[string]any{
				"post": map[string]any{
					"summary": "Execute a registered tool",
					"parameters": []map[string]any{
						{"name": "name", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
						{"name": "action", "in": "query", "required": false, "schema": map[string]any{"type": "string"}},
					},
					"responses": map[string]any{
						"200":         map[string]any{"description": "Tool executed"},
						"400":         map[string]any{"description": "Validation error"},
						"401":         map[string]any{"description": "Unauthenticated"},
						"404":         map[string]any{"description": "Unknown tool"},
						"415":         map[string]any{"description": "Non-JSON body"},
						"500":         map[string]any{"description": "Internal error"},
					},
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
				"apiKeyAuth": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": "X-API-Key",
				},
			},
		},
		"security": []map[string]any{
			{"bearerAuth": []string{}},
			{"apiKeyAuth": []string{}},
		},
	}
}
