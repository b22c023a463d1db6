package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"protokoll/internal/domain"
	"protokoll/internal/engine"
	"protokoll/internal/realtime"
	"protokoll/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Hub      *realtime.Hub
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"section_locked"`
	Message string         `json:"message" example:"section agenda is locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Protokoll API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Protokoll API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerProtocols(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerActivity(group, cfg.Engine)

	if cfg.Hub != nil {
		router.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, r *http.Request) {
			p, authErr := requirePrincipal(r.Context())
			if authErr != nil {
				respondStatusError(w, authErr)
				return
			}
			cfg.Hub.ServeWS(w, r, p.UserID)
		})
	}

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
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), map[string]any{"field": ve.Field})
	}
	var le engine.SectionLockedError
	if errors.As(err, &le) {
		return newAPIError(http.StatusBadRequest, "section_locked", err.Error(), map[string]any{"section": le.Section})
	}
	switch {
	case errors.Is(err, engine.ErrAlreadyFinalized):
		return newAPIError(http.StatusBadRequest, "already_finalized", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidState):
		return newAPIError(http.StatusBadRequest, "invalid_state", err.Error(), nil)
	case errors.Is(err, engine.ErrAccessDenied):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerAuth(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Log in",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if input.Body.Email == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email and password are required", nil)
		}
		u, err := e.Repo.GetUserByEmail(ctx, input.Body.Email)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
			}
			return nil, handleError(err)
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(input.Body.Password)) != nil {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		token, err := auth.IssueToken(u, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, User: u}}, nil
	})
}

func registerProtocols(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-protocol",
		Method:        http.MethodPost,
		Path:          "/protocols",
		Summary:       "Create protocol",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProtocolRequest `json:"body"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateProtocolOptions{
			GroupID:     principal.GroupID,
			ActorID:     principal.UserID,
			MeetingDate: input.Body.MeetingDate,
			Title:       input.Body.Title,
			Data:        input.Body.Data,
		}
		if input.Body.TemplateID != nil {
			opts.TemplateID = *input.Body.TemplateID
		}
		p, err := e.CreateProtocol(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-protocols",
		Method:      http.MethodGet,
		Path:        "/protocols",
		Summary:     "List protocols",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		StartDate string `query:"start_date"`
		EndDate   string `query:"end_date"`
	}) (*struct {
		Body []domain.Protocol `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProtocols(ctx, principal.GroupID, repo.ProtocolFilters{
			Status:    input.Status,
			StartDate: input.StartDate,
			EndDate:   input.EndDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Protocol `json:"body"`
		}{Body: nonNilProtocols(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-protocol",
		Method:      http.MethodGet,
		Path:        "/protocols/{id}",
		Summary:     "Get protocol with attendees and comments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProtocolDetailResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetProtocolDetail(ctx, input.ID, principal.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProtocolDetailResponse `json:"body"`
		}{Body: detailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-protocol",
		Method:      http.MethodPut,
		Path:        "/protocols/{id}",
		Summary:     "Update protocol",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateProtocolRequest `json:"body"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProtocol(ctx, engine.UpdateProtocolOptions{
			ID:             input.ID,
			ActorID:        principal.UserID,
			ActorGroupID:   principal.GroupID,
			Title:          input.Body.Title,
			Data:           input.Body.Data,
			Status:         input.Body.Status,
			LockedSections: input.Body.LockedSections,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-protocol-section",
		Method:      http.MethodPatch,
		Path:        "/protocols/{id}/sections/{section_id}",
		Summary:     "Update one section",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID        string               `path:"id"`
		SectionID string               `path:"section_id"`
		Body      UpdateSectionRequest `json:"body"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateSection(ctx, engine.SectionUpdateOptions{
			ProtocolID:   input.ID,
			ActorID:      principal.UserID,
			ActorGroupID: principal.GroupID,
			SectionID:    input.SectionID,
			Content:      input.Body.Content,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-protocol",
		Method:      http.MethodPost,
		Path:        "/protocols/{id}/finalize",
		Summary:     "Finalize protocol",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Protocol `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Finalize(ctx, input.ID, principal.UserID, principal.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Protocol `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-protocol-versions",
		Method:      http.MethodGet,
		Path:        "/protocols/{id}/versions",
		Summary:     "List protocol versions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Version `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListVersions(ctx, input.ID, principal.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Version `json:"body"`
		}{Body: nonNilVersions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-protocol-attendees",
		Method:      http.MethodPut,
		Path:        "/protocols/{id}/attendees",
		Summary:     "Replace submitted attendance rows",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body UpdateAttendeesRequest `json:"body"`
	}) (*struct {
		Body []domain.Attendee `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows, err := e.UpdateAttendees(ctx, input.ID, principal.UserID, principal.GroupID, attendeeInputs(input.Body.Attendees))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Attendee `json:"body"`
		}{Body: nonNilAttendees(rows)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-protocol-comment",
		Method:        http.MethodPost,
		Path:          "/protocols/{id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AddCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.ID, principal.UserID, principal.GroupID, input.Body.SectionID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-protocol-comment",
		Method:      http.MethodPatch,
		Path:        "/protocols/{id}/comments/{comment_id}/resolve",
		Summary:     "Resolve comment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		CommentID string `path:"comment_id"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ResolveComment(ctx, input.ID, input.CommentID, principal.UserID, principal.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-protocol-tasks",
		Method:      http.MethodGet,
		Path:        "/protocols/{id}/tasks",
		Summary:     "List tasks derived from a protocol",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProtocol(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if p.GroupID != principal.GroupID {
			return nil, handleError(engine.ErrAccessDenied)
		}
		items, err := e.Repo.ListTasksByProtocol(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(items)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			GroupID:     principal.GroupID,
			ActorID:     principal.UserID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			Category:    input.Body.Category,
		}
		if input.Body.ProtocolID != nil {
			opts.ProtocolID = *input.Body.ProtocolID
		}
		if input.Body.AssignedTo != nil {
			opts.AssignedTo = *input.Body.AssignedTo
		}
		if input.Body.Deadline != nil {
			opts.Deadline = *input.Body.Deadline
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		AssignedTo string `query:"assigned_to"`
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		Overdue    bool   `query:"overdue"`
		Today      bool   `query:"today"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTasks(ctx, principal.GroupID, repo.TaskFilters{
			AssignedTo: input.AssignedTo,
			Status:     input.Status,
			Priority:   input.Priority,
			Overdue:    input.Overdue,
			DueOn:      input.Today,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if t.GroupID != principal.GroupID {
			return nil, handleError(engine.ErrAccessDenied)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:           input.ID,
			ActorID:      principal.UserID,
			ActorGroupID: principal.GroupID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			AssignedTo:   input.Body.AssignedTo,
			Deadline:     input.Body.Deadline,
			Priority:     input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Update task status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTaskStatus(ctx, input.ID, principal.UserID, principal.GroupID, input.Body.Status, input.Body.CompletionNotes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, principal.UserID, principal.GroupID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Recent group activity",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ActivityLog `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListActivity(ctx, principal.GroupID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActivityLog `json:"body"`
		}{Body: nonNilActivity(items)}, nil
	})
}
