package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseflow/internal/audit"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"transition_blocked"`
	Message string         `json:"message" example:"transition to DECISION blocked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			origin := audit.Origin{Address: r.RemoteAddr, Client: r.UserAgent()}
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				origin.Address = fwd
			}
			ctx = audit.WithOrigin(ctx, origin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerGates(group, cfg.Engine)
	registerStageTransitions(group, cfg.Engine)
	registerSeriousCause(group, cfg.Engine)
	registerGrants(group, cfg.Engine)
	registerDecision(group, cfg.Engine)
	registerCaseCollections(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine error types onto the HTTP envelope. All blockers
// and conflicts travel in details so a caller never has to retry blind.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	var be engine.BlockedError
	if errors.As(err, &be) {
		return newAPIError(http.StatusConflict, "transition_blocked", err.Error(), map[string]any{
			"target":   be.Target,
			"blockers": be.Blockers,
		})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "role_conflict", err.Error(), map[string]any{"conflicts": ce.Conflicts})
	}
	var se engine.StateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	var swe engine.StaleWriteError
	if errors.As(err, &swe) {
		return newAPIError(http.StatusConflict, "stale_write", err.Error(), map[string]any{
			"case_id":          swe.CaseID,
			"expected_version": swe.ExpectedVersion,
		})
	}
	var ore engine.OverrideRequiredError
	if errors.As(err, &ore) {
		return newAPIError(http.StatusConflict, "needs_override", err.Error(), map[string]any{"guardrail": ore.Code})
	}
	var ade engine.AccessDeniedError
	if errors.As(err, &ade) {
		return newAPIError(http.StatusForbidden, "access_denied", err.Error(), map[string]any{"resource": ade.Resource})
	}
	var ue engine.UnavailableError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "workspace-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountCasesByStage(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		workspaceID := ""
		if e.Config != nil {
			workspaceID = e.Config.Workspace.ID
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"workspace_id": workspaceID,
			"case_counts":  counts,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Get workspace config",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkspaceConfigResponse `json:"body"`
	}, error) {
		if e.Config == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "config not loaded", nil)
		}
		return &struct {
			Body WorkspaceConfigResponse `json:"body"`
		}{Body: configResponse(e.Config.Workspace.ID, e.Config)}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			Code:             stringOrEmpty(input.Body.Code),
			Title:            input.Body.Title,
			Jurisdiction:     input.Body.Jurisdiction,
			VIP:              input.Body.VIP,
			ReporterIdentity: stringOrEmpty(input.Body.ReporterIdentity),
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage        string `query:"stage"`
		Status       string `query:"status"`
		Jurisdiction string `query:"jurisdiction"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		cases, err := e.Repo.ListCases(ctx, repo.CaseFilters{
			Stage:           input.Stage,
			Status:          input.Status,
			Jurisdiction:    input.Jurisdiction,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCases{Items: []CaseResponse{}}
		if len(cases) > limit {
			resp.NextCursor = composeCursor(cases[limit].CreatedAt, cases[limit].ID)
			cases = cases[:limit]
		}
		for _, c := range cases {
			resp.Items = append(resp.Items, caseResponse(c, false))
		}
		return &struct {
			Body paginatedCases `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		unmasked, err := e.HasActiveGrant(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, unmasked)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}",
		Summary:     "Update case details",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   UpdateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCaseDetails(ctx, engine.CaseUpdateOptions{
			CaseID:              input.CaseID,
			Title:               input.Body.Title,
			Jurisdiction:        input.Body.Jurisdiction,
			VIP:                 input.Body.VIP,
			UrgentDismissal:     input.Body.UrgentDismissal,
			SubjectSuspended:    input.Body.SubjectSuspended,
			ReporterIdentity:    input.Body.ReporterIdentity,
			LegalHoldContact:    input.Body.LegalHoldContact,
			ExpertAccessContact: input.Body.ExpertAccessContact,
			Override:            input.Body.Override,
			OverrideReason:      stringOrEmpty(input.Body.OverrideReason),
			ExpectedVersion:     input.Body.ExpectedVersion,
			ActorID:             actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		unmasked, err := e.HasActiveGrant(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, unmasked)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-case-status",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}/status",
		Summary:     "Set case status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   SetCaseStatusRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SetStatus(ctx, input.CaseID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "anonymize-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/anonymize",
		Summary:     "Anonymize case",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Anonymize(ctx, input.CaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, false)}, nil
	})
}

func registerGates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-gate",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/gates/{key}",
		Summary:     "Save gate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string          `path:"case_id"`
		Key    string          `path:"key"`
		Body   SaveGateRequest `json:"body"`
	}) (*struct {
		Body GateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.SaveGate(ctx, input.CaseID, input.Key, input.Body.Payload, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GateResponse `json:"body"`
		}{Body: gateResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gates",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/gates",
		Summary:     "List gates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []GateResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		gates, err := e.Repo.ListGates(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []GateResponse{}
		for _, g := range gates {
			resp = append(resp, gateResponse(g))
		}
		return &struct {
			Body []GateResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerStageTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "request-stage-transition",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/stage",
		Summary:     "Request stage transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                 `path:"case_id"`
		Body   StageTransitionRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RequestStageTransition(ctx, input.CaseID, input.Body.Target, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, false)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-blockers",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/stage/blockers",
		Summary:     "List blockers for a prospective stage move",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Target string `query:"target"`
	}) (*struct {
		Body []BlockerResponse `json:"body"`
	}, error) {
		blockers, err := e.StageBlockers(ctx, input.CaseID, input.Target)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []BlockerResponse{}
		for _, b := range blockers {
			resp = append(resp, BlockerResponse{Code: b.Code, Message: b.Message})
		}
		return &struct {
			Body []BlockerResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSeriousCause(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "enable-serious-cause",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/serious-cause",
		Summary:       "Enable serious-cause workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                    `path:"case_id"`
		Body   EnableSeriousCauseRequest `json:"body"`
	}) (*struct {
		Body SeriousCauseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sc, err := e.EnableSeriousCause(ctx, engine.SeriousCauseEnableOptions{
			CaseID:                 input.CaseID,
			DecisionMaker:          input.Body.DecisionMaker,
			IncidentAt:             stringOrEmpty(input.Body.IncidentAt),
			InvestigationStartedAt: stringOrEmpty(input.Body.InvestigationStartedAt),
			ActorID:                actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeriousCauseResponse `json:"body"`
		}{Body: seriousCauseResponse(sc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-serious-cause",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/serious-cause",
		Summary:     "Get serious-cause record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body SeriousCauseResponse `json:"body"`
	}, error) {
		sc, err := e.Repo.GetSeriousCause(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeriousCauseResponse `json:"body"`
		}{Body: seriousCauseResponse(sc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-findings",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/serious-cause/findings",
		Summary:     "Submit findings",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                `path:"case_id"`
		Body   SubmitFindingsRequest `json:"body"`
	}) (*struct {
		Body SeriousCauseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sc, err := e.SubmitFindings(ctx, input.CaseID, input.Body.ConfirmedAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeriousCauseResponse `json:"body"`
		}{Body: seriousCauseResponse(sc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-dismissal",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/serious-cause/dismissal",
		Summary:     "Record dismissal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                 `path:"case_id"`
		Body   RecordDismissalRequest `json:"body"`
	}) (*struct {
		Body SeriousCauseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sc, err := e.RecordDismissal(ctx, input.CaseID, input.Body.RecordedAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeriousCauseResponse `json:"body"`
		}{Body: seriousCauseResponse(sc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-reasons-sent",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/serious-cause/reasons",
		Summary:     "Record dismissal reasons sent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string               `path:"case_id"`
		Body   RecordReasonsRequest `json:"body"`
	}) (*struct {
		Body SeriousCauseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sc, err := e.RecordReasonsSent(ctx, input.CaseID, input.Body.SentAt, input.Body.Method, input.Body.ProofRef, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeriousCauseResponse `json:"body"`
		}{Body: seriousCauseResponse(sc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-missed-deadline",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/serious-cause/missed",
		Summary:     "Acknowledge missed dismissal deadline",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                `path:"case_id"`
		Body   MissedDeadlineRequest `json:"body"`
	}) (*struct {
		Body SeriousCauseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sc, err := e.AcknowledgeMissedDeadline(ctx, input.CaseID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SeriousCauseResponse `json:"body"`
		}{Body: seriousCauseResponse(sc)}, nil
	})
}

func registerGrants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-grant",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/grants",
		Summary:       "Request break-glass grant",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string              `path:"case_id"`
		Body   RequestGrantRequest `json:"body"`
	}) (*struct {
		Body GrantResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.RequestGrant(ctx, input.CaseID, actorID, input.Body.Reason, input.Body.DurationMinutes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GrantResponse `json:"body"`
		}{Body: grantResponse(g, engine.GrantValid(g, e.Now()))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-grants",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/grants",
		Summary:     "List grants",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []GrantResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		grants, err := e.Repo.ListGrants(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []GrantResponse{}
		now := e.Now()
		for _, g := range grants {
			resp = append(resp, grantResponse(g, engine.GrantValid(g, now)))
		}
		return &struct {
			Body []GrantResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-grant",
		Method:      http.MethodPost,
		Path:        "/grants/{grant_id}/revoke",
		Summary:     "Revoke grant",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GrantID string `path:"grant_id"`
	}) (*struct {
		Body GrantResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.RevokeGrant(ctx, input.GrantID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GrantResponse `json:"body"`
		}{Body: grantResponse(g, false)}, nil
	})
}

func registerDecision(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-decision",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/decision",
		Summary:       "Record decision",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string                `path:"case_id"`
		Body   RecordDecisionRequest `json:"body"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.RecordDecision(ctx, engine.DecisionOptions{
			CaseID:         input.CaseID,
			Outcome:        input.Body.Outcome,
			Summary:        stringOrEmpty(input.Body.Summary),
			OverrideReason: stringOrEmpty(input.Body.OverrideReason),
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: outcomeResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/decision",
		Summary:     "Get decision",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body OutcomeResponse `json:"body"`
	}, error) {
		o, err := e.Repo.GetOutcome(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutcomeResponse `json:"body"`
		}{Body: outcomeResponse(o)}, nil
	})
}

func registerCaseCollections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-subject",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/subjects",
		Summary:       "Add subject",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   AddSubjectRequest `json:"body"`
	}) (*struct {
		Body SubjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddSubject(ctx, input.CaseID, input.Body.Name, stringOrEmpty(input.Body.Role), stringOrEmpty(input.Body.ManagerName), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubjectResponse `json:"body"`
		}{Body: subjectResponse(s, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subjects",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/subjects",
		Summary:     "List subjects",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []SubjectResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		unmasked, err := e.HasActiveGrant(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		subjects, err := e.Repo.ListSubjects(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []SubjectResponse{}
		for _, s := range subjects {
			resp = append(resp, subjectResponse(s, unmasked))
		}
		return &struct {
			Body []SubjectResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-evidence",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/evidence",
		Summary:       "Add evidence",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   AddEvidenceRequest `json:"body"`
	}) (*struct {
		Body EvidenceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.AddEvidence(ctx, input.CaseID, input.Body.Label, stringOrEmpty(input.Body.Link), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvidenceResponse `json:"body"`
		}{Body: evidenceResponse(ev, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/evidence",
		Summary:     "List evidence",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []EvidenceResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		unmasked, err := e.HasActiveGrant(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvidence(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []EvidenceResponse{}
		for _, ev := range items {
			resp = append(resp, evidenceResponse(ev, unmasked))
		}
		return &struct {
			Body []EvidenceResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/notes",
		Summary:       "Add note",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string         `path:"case_id"`
		Body   AddNoteRequest `json:"body"`
	}) (*struct {
		Body NoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AddNote(ctx, input.CaseID, input.Body.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NoteResponse `json:"body"`
		}{Body: noteResponse(n, true)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/notes",
		Summary:     "List notes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []NoteResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		unmasked, err := e.HasActiveGrant(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		notes, err := e.Repo.ListNotes(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []NoteResponse{}
		for _, n := range notes {
			resp = append(resp, noteResponse(n, unmasked))
		}
		return &struct {
			Body []NoteResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-case",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/links",
		Summary:       "Link case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string          `path:"case_id"`
		Body   LinkCaseRequest `json:"body"`
	}) (*struct {
		Body CaseLinkResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LinkCases(ctx, input.CaseID, input.Body.LinkedCaseID, stringOrEmpty(input.Body.Relation), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseLinkResponse `json:"body"`
		}{Body: caseLinkResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-links",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/links",
		Summary:     "List case links",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []CaseLinkResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		links, err := e.Repo.ListCaseLinks(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []CaseLinkResponse{}
		for _, l := range links {
			resp = append(resp, caseLinkResponse(l))
		}
		return &struct {
			Body []CaseLinkResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-case-task",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/tasks",
		Summary:       "Add case task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string             `path:"case_id"`
		Body   AddCaseTaskRequest `json:"body"`
	}) (*struct {
		Body CaseTaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddCaseTask(ctx, input.CaseID, input.Body.Title, stringOrEmpty(input.Body.AssigneeID), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseTaskResponse `json:"body"`
		}{Body: caseTaskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-tasks",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/tasks",
		Summary:     "List case tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
	}) (*struct {
		Body []CaseTaskResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListCaseTasks(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []CaseTaskResponse{}
		for _, t := range tasks {
			resp = append(resp, caseTaskResponse(t))
		}
		return &struct {
			Body []CaseTaskResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-case-task",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/tasks/{task_id}/done",
		Summary:     "Complete case task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CompleteCaseTask(ctx, input.CaseID, input.TaskID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	handler := func(ctx context.Context, caseID, actorID, evtType string, limit int, cursor string) (*paginatedAuditEvents, huma.StatusError) {
		normalized := normalizeLimit(limit)
		var cursorID int64
		if cursor != "" {
			parsed, err := strconv.ParseInt(cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
			}
			cursorID = parsed
		}
		events, err := e.Repo.LatestAuditEvents(ctx, repo.AuditFilters{
			CaseID:  caseID,
			ActorID: actorID,
			Type:    evtType,
			Limit:   normalized + 1,
			Cursor:  cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAuditEvents{Items: []AuditEventResponse{}}
		if len(events) > normalized {
			resp.NextCursor = strconv.FormatInt(events[normalized].ID, 10)
			events = events[:normalized]
		}
		for _, evt := range events {
			resp.Items = append(resp.Items, auditEventResponse(evt))
		}
		return &resp, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Query audit ledger",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CaseID  string `query:"case_id"`
		ActorID string `query:"actor_id"`
		Type    string `query:"type"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedAuditEvents `json:"body"`
	}, error) {
		resp, errResp := handler(ctx, input.CaseID, input.ActorID, input.Type, input.Limit, input.Cursor)
		if errResp != nil {
			return nil, errResp
		}
		return &struct {
			Body paginatedAuditEvents `json:"body"`
		}{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-audit-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/audit",
		Summary:     "Query case audit trail",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedAuditEvents `json:"body"`
	}, error) {
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		resp, errResp := handler(ctx, input.CaseID, "", input.Type, input.Limit, input.Cursor)
		if errResp != nil {
			return nil, errResp
		}
		return &struct {
			Body paginatedAuditEvents `json:"body"`
		}{Body: *resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" || input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and key are required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		key, err := e.CreateAPIKey(ctx, input.Body.ActorID, stringOrEmpty(input.Body.Name), input.Body.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := []APIKeyResponse{}
		for _, k := range keys {
			resp = append(resp, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
