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
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"compmap/internal/domain"
	"compmap/internal/engine"
	"compmap/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal transition from \"cadastro in progress\" to \"map created\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Compmap API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Compmap API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProcesses(group, cfg.Engine)
	registerSubprocesses(group, cfg.Engine)
	registerUnits(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var iie *engine.InvalidInputError
	if errors.As(err, &iie) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var cape *engine.ConflictingActiveProcessError
	if errors.As(err, &cape) {
		return newAPIError(http.StatusConflict, "conflicting_active_process", err.Error(), map[string]any{"units": cape.Acronyms})
	}
	var ise *engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"situation": ise.Current})
	}
	var ite *engine.IllegalTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", err.Error(), map[string]any{
			"from": ite.From, "to": ite.To,
		})
	}
	var neme *engine.NoEffectiveMapError
	if errors.As(err, &neme) {
		return newAPIError(http.StatusUnprocessableEntity, "no_effective_map", err.Error(), map[string]any{"unit": neme.UnitAcronym})
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
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

var mutatingErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
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
	security := []map[string][]string{{"bearerAuth": {}}}
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
    <title>Compmap API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors:        mutatingErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{
			Description:    input.Body.Description,
			Type:           domain.ProcessType(input.Body.Type),
			Stage1Deadline: input.Body.Stage1Deadline,
			UnitIDs:        input.Body.UnitIDs,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProcessResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProcesses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProcessResponse `json:"body"`
		}{Body: mapProcesses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}",
		Summary:     "Get process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProcess(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-process",
		Method:      http.MethodPatch,
		Path:        "/processes/{process_id}",
		Summary:     "Update process",
		Errors:      mutatingErrors,
	}, func(ctx context.Context, input *struct {
		ProcessID string               `path:"process_id"`
		Body      UpdateProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProcess(ctx, engine.ProcessUpdateOptions{
			ID:             input.ProcessID,
			Description:    input.Body.Description,
			Type:           domain.ProcessType(input.Body.Type),
			Stage1Deadline: input.Body.Stage1Deadline,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-process",
		Method:      http.MethodDelete,
		Path:        "/processes/{process_id}",
		Summary:     "Delete process",
		Errors:      mutatingErrors,
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProcess(ctx, input.ProcessID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	type startInput struct {
		ProcessID string              `path:"process_id"`
		Body      StartProcessRequest `json:"body"`
	}
	type startOutput struct {
		Body ProcessResponse `json:"body"`
	}
	startHandler := func(start func(context.Context, engine.StartOptions) (domain.Process, error)) func(context.Context, *startInput) (*startOutput, error) {
		return func(ctx context.Context, input *startInput) (*startOutput, error) {
			if len(bodyBytes(ctx)) == 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
			}
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := start(ctx, engine.StartOptions{
				ProcessID: input.ProcessID,
				UnitIDs:   input.Body.UnitIDs,
				ActorID:   actorID,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &startOutput{Body: processResponse(p)}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "start-mapping",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/start-mapping",
		Summary:     "Start mapping process",
		Errors:      mutatingErrors,
	}, startHandler(e.StartMapping))
	huma.Register(api, huma.Operation{
		OperationID: "start-revision",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/start-revision",
		Summary:     "Start revision process",
		Errors:      mutatingErrors,
	}, startHandler(e.StartRevision))
	huma.Register(api, huma.Operation{
		OperationID: "start-diagnostic",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/start-diagnostic",
		Summary:     "Start diagnostic process",
		Errors:      mutatingErrors,
	}, startHandler(e.StartDiagnostic))

	huma.Register(api, huma.Operation{
		OperationID: "finalize-process",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/finalize",
		Summary:     "Finalize process",
		Errors:      mutatingErrors,
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Finalize(ctx, input.ProcessID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-process-subprocesses",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/subprocesses",
		Summary:     "List subprocesses of a process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body []SubprocessResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ProcessID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSubprocesses(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SubprocessResponse, 0, len(items))
		for _, sp := range items {
			res = append(res, subprocessResponse(sp, engine.IsActive(sp), engine.CurrentStage(sp)))
		}
		return &struct {
			Body []SubprocessResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-process-snapshots",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/snapshots",
		Summary:     "List frozen unit snapshots of a process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProcess(ctx, input.ProcessID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListUnitSnapshots(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: mapSnapshots(items)}, nil
	})
}

func registerSubprocesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-subprocess",
		Method:      http.MethodGet,
		Path:        "/subprocesses/{subprocess_id}",
		Summary:     "Get subprocess",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubprocessID string `path:"subprocess_id"`
	}) (*struct {
		Body SubprocessResponse `json:"body"`
	}, error) {
		sp, err := e.Repo.GetSubprocess(ctx, input.SubprocessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubprocessResponse `json:"body"`
		}{Body: subprocessResponse(sp, engine.IsActive(sp), engine.CurrentStage(sp))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-subprocess",
		Method:      http.MethodPost,
		Path:        "/subprocesses/{subprocess_id}/transition",
		Summary:     "Transition subprocess situation",
		Errors:      mutatingErrors,
	}, func(ctx context.Context, input *struct {
		SubprocessID string            `path:"subprocess_id"`
		Body         TransitionRequest `json:"body"`
	}) (*struct {
		Body SubprocessResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := e.SetSituation(ctx, engine.TransitionOptions{
			SubprocessID: input.SubprocessID,
			Next:         domain.Situation(input.Body.Situation),
			ActorID:      actorID,
			MovementNote: input.Body.MovementNote,
			OriginUnitID: input.Body.OriginUnitID,
			DestUnitID:   input.Body.DestUnitID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubprocessResponse `json:"body"`
		}{Body: subprocessResponse(sp, engine.IsActive(sp), engine.CurrentStage(sp))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repair-subprocess",
		Method:      http.MethodPost,
		Path:        "/subprocesses/{subprocess_id}/repair",
		Summary:     "Force-set subprocess situation (data repair)",
		Errors:      mutatingErrors,
	}, func(ctx context.Context, input *struct {
		SubprocessID string                 `path:"subprocess_id"`
		Body         RepairSituationRequest `json:"body"`
	}) (*struct {
		Body SubprocessResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sp, err := e.RepairSituation(ctx, input.SubprocessID, domain.Situation(input.Body.Situation), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubprocessResponse `json:"body"`
		}{Body: subprocessResponse(sp, engine.IsActive(sp), engine.CurrentStage(sp))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subprocess-movements",
		Method:      http.MethodGet,
		Path:        "/subprocesses/{subprocess_id}/movements",
		Summary:     "List custody movements",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubprocessID string `path:"subprocess_id"`
	}) (*struct {
		Body []MovementResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSubprocess(ctx, input.SubprocessID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMovements(ctx, input.SubprocessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MovementResponse `json:"body"`
		}{Body: mapMovements(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-subprocess-movement",
		Method:        http.MethodPost,
		Path:          "/subprocesses/{subprocess_id}/movements",
		Summary:       "Record custody movement",
		DefaultStatus: http.StatusCreated,
		Errors:        mutatingErrors,
	}, func(ctx context.Context, input *struct {
		SubprocessID string                `path:"subprocess_id"`
		Body         RecordMovementRequest `json:"body"`
	}) (*struct {
		Body MovementResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RecordMovement(ctx, input.SubprocessID, input.Body.OriginUnitID, input.Body.DestUnitID, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MovementResponse `json:"body"`
		}{Body: movementResponse(m)}, nil
	})
}

func registerUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/units",
		Summary:     "List units",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UnitResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListUnits(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UnitResponse `json:"body"`
		}{Body: mapUnits(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unit",
		Method:      http.MethodGet,
		Path:        "/units/{unit_id}",
		Summary:     "Get unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UnitID string `path:"unit_id"`
	}) (*struct {
		Body UnitResponse `json:"body"`
	}, error) {
		u, err := e.Repo.GetUnit(ctx, input.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnitResponse `json:"body"`
		}{Body: unitResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-units",
		Method:      http.MethodPost,
		Path:        "/units/import",
		Summary:     "Upsert units from an org chart",
		Errors:      mutatingErrors,
	}, func(ctx context.Context, input *struct {
		Body ImportUnitsRequest `json:"body"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		count := 0
		for _, up := range input.Body.Units {
			if up.ID == "" || up.Acronym == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unit id and acronym are required", nil)
			}
			u := domain.Unit{
				ID:             up.ID,
				Name:           up.Name,
				Acronym:        up.Acronym,
				Type:           domain.UnitType(up.Type),
				SuperiorUnitID: up.SuperiorUnitID,
				TitularUserID:  up.TitularUserID,
			}
			if err := e.Repo.UpsertUnit(ctx, u); err != nil {
				return nil, handleError(err)
			}
			count++
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"imported": count}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unit-effective-map",
		Method:      http.MethodGet,
		Path:        "/units/{unit_id}/effective-map",
		Summary:     "Get the unit's currently effective competency map",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UnitID string `path:"unit_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, err := e.Repo.GetUnit(ctx, input.UnitID); err != nil {
			return nil, handleError(err)
		}
		mapID, err := e.Repo.EffectiveMapID(ctx, input.UnitID)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetMap(ctx, mapID)
		if err != nil {
			return nil, handleError(err)
		}
		acts, err := e.Repo.ListActivities(ctx, mapID)
		if err != nil {
			return nil, handleError(err)
		}
		activities := make([]map[string]any, 0, len(acts))
		for _, a := range acts {
			kn, err := e.Repo.ListKnowledge(ctx, a.ID)
			if err != nil {
				return nil, handleError(err)
			}
			activities = append(activities, map[string]any{
				"id":          a.ID,
				"description": a.Description,
				"knowledge":   kn,
			})
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"id":            m.ID,
			"unit_id":       m.UnitID,
			"source_map_id": m.SourceMapID,
			"created_at":    m.CreatedAt,
			"activities":    activities,
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		ProcessID string `query:"process_id"`
		Limit     int    `query:"limit" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		items, err := e.Repo.ListEvents(ctx, limit, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
