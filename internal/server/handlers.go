package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/repo"
	"caseflow/internal/scheduler"
)

type caseIDInput struct {
	ID string `path:"id"`
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Topics, statuses and transition rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		if _, err := actorFromContext(ctx); err != nil {
			return nil, err
		}
		topics, err := e.Repo.ListTopics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		statuses, err := e.Repo.ListStatuses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		rules, err := e.Repo.ListAllRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: CatalogResponse{Topics: topics, Statuses: statuses, Rules: rules}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-case",
		Method:      http.MethodPost,
		Path:        "/cases",
		Summary:     "Create case",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, in *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := auth.RequireRole(actor, "create_case", domain.RoleAdmin, domain.RoleLawyer); err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreateCase(ctx, engine.CaseInput{
			TrackNumber: in.Body.TrackNumber,
			ClientName:  in.Body.ClientName,
			ClientPhone: in.Body.ClientPhone,
			TopicCode:   in.Body.TopicCode,
			Status:      in.Body.Status,
			Data:        in.Body.Data,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, in *struct {
		Status     string `query:"status"`
		Topic      string `query:"topic"`
		AssignedTo string `query:"assigned_to"`
		Unassigned bool   `query:"unassigned"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body CaseListResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := auth.RequireRole(actor, "list_cases", domain.RoleAdmin, domain.RoleLawyer); err != nil {
			return nil, handleError(err)
		}
		cases, err := e.Repo.ListCases(ctx, repo.CaseFilters{
			Status:     in.Status,
			TopicCode:  in.Topic,
			AssignedTo: in.AssignedTo,
			Unassigned: in.Unassigned,
			Limit:      normalizeLimit(in.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]domain.Case, 0, len(cases))
		for _, c := range cases {
			if engine.CanView(actor, c) == nil {
				items = append(items, c)
			}
		}
		return &struct {
			Body CaseListResponse `json:"body"`
		}{Body: CaseListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *caseIDInput) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, err := e.GetCase(ctx, in.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-history",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/history",
		Summary:     "Status history",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *caseIDInput) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if _, err := e.GetCase(ctx, in.ID, actor); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHistory(ctx, in.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.HistoryEntry{}
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-sla",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/sla",
		Summary:     "SLA deadline of the current status",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *caseIDInput) (*struct {
		Body SLAResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		info, ok, err := e.SLA(ctx, in.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := SLAResponse{Defined: ok}
		if ok {
			out.SLA = &info
		}
		return &struct {
			Body SLAResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-invoices",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/invoices",
		Summary:     "Invoices issued for a case",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *caseIDInput) (*struct {
		Body InvoiceListResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if _, err := e.GetCase(ctx, in.ID, actor); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListInvoices(ctx, in.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Invoice{}
		}
		return &struct {
			Body InvoiceListResponse `json:"body"`
		}{Body: InvoiceListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-case-data",
		Method:      http.MethodPatch,
		Path:        "/cases/{id}/data",
		Summary:     "Merge keys into case data; null removes a key",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *struct {
		ID   string         `path:"id"`
		Body map[string]any `json:"body"`
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		c, err := e.UpdateCaseData(ctx, in.ID, in.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/transition",
		Summary:     "Change case status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, in *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body engine.TransitionResult `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		res, err := e.ChangeStatus(ctx, engine.TransitionRequest{
			CaseID:        in.ID,
			ToStatus:      in.Body.ToStatus,
			Comment:       in.Body.Comment,
			ImportantDate: in.Body.ImportantDate,
			Actor:         actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TransitionResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerConversation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-message",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/messages",
		Summary:     "Post a message",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *struct {
		ID   string         `path:"id"`
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		msg, res, err := e.AddMessage(ctx, in.ID, in.Body.Body, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: MessageResponse{Message: msg, Notification: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-attachment",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/attachments",
		Summary:     "Register an uploaded file",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *struct {
		ID   string            `path:"id"`
		Body AttachmentRequest `json:"body"`
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		att, res, err := e.AddAttachment(ctx, engine.AttachmentInput{
			CaseID:     in.ID,
			MessageID:  in.Body.MessageID,
			FileName:   in.Body.FileName,
			MimeType:   in.Body.MimeType,
			SizeBytes:  in.Body.SizeBytes,
			StorageKey: in.Body.StorageKey,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: AttachmentResponse{Attachment: att, Notification: res}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-read",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/read",
		Summary:     "Mark the caller's notifications for a case as read",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, in *caseIDInput) (*struct {
		Body ReadResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		n, err := e.MarkRead(ctx, in.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReadResponse `json:"body"`
		}{Body: ReadResponse{Marked: n}}, nil
	})
}

func registerAssignment(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/claim",
		Summary:     "Claim an unassigned case",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, in *caseIDInput) (*struct {
		Body engine.ClaimResult `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		res, err := e.Claim(ctx, in.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ClaimResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/reassign",
		Summary:     "Move a case to another lawyer",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, in *struct {
		ID   string          `path:"id"`
		Body ReassignRequest `json:"body"`
	}) (*struct {
		Body engine.ReassignResult `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		res, err := e.Reassign(ctx, in.ID, in.Body.TargetStaffID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReassignResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerScheduler(api huma.API, s scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID: "run-scheduler",
		Method:      http.MethodPost,
		Path:        "/scheduler/run",
		Summary:     "Run one assignment pass",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.RunResult `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := auth.RequireRole(actor, "run_scheduler", domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		res, err := s.RunOnce(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.RunResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "staff-load",
		Method:      http.MethodGet,
		Path:        "/staff/load",
		Summary:     "Active case load per lawyer",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []scheduler.StaffLoad `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := auth.RequireRole(actor, "staff_load", domain.RoleAdmin); err != nil {
			return nil, handleError(err)
		}
		loads, err := s.Loads(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []scheduler.StaffLoad `json:"body"`
		}{Body: loads}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notifications addressed to the caller",
	}, func(ctx context.Context, in *struct {
		CaseID     string `query:"case_id"`
		UnreadOnly bool   `query:"unread"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body NotificationListResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		f := repo.NotificationFilters{CaseID: in.CaseID, UnreadOnly: in.UnreadOnly, Limit: normalizeLimit(in.Limit)}
		if actor.Role == domain.RoleClient {
			f.TrackNumber = actor.ID
		} else {
			f.StaffID = actor.ID
		}
		items, err := e.Repo.ListNotifications(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body NotificationListResponse `json:"body"`
		}{Body: NotificationListResponse{Items: items}}, nil
	})
}
