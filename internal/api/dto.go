package api

import (
	"time"

	"trade-export/internal/domain"
)

// QueryRequest is the POST /v1/query body.
type QueryRequest struct {
	Exchanges   []string          `json:"exchanges"`
	PriceLow    *float64          `json:"pricelow"`
	PriceHigh   *float64          `json:"pricehigh"`
	SizeLow     *int64            `json:"sizelow"`
	SizeHigh    *int64            `json:"sizehigh"`
	DateLow     string            `json:"datelow"`
	DateHigh    string            `json:"datehigh"`
	Operations  []OperationObject `json:"operations"`
	SortBy      string            `json:"sortby"`
	AggregateBy string            `json:"aggregateby"`
}

// OperationObject is one calculated column in a QueryRequest.
type OperationObject struct {
	Expression string `json:"expression"`
}

func (q QueryRequest) toDomain() domain.QuerySpec {
	spec := domain.QuerySpec{
		Exchanges:   q.Exchanges,
		PriceLow:    q.PriceLow,
		PriceHigh:   q.PriceHigh,
		SizeLow:     q.SizeLow,
		SizeHigh:    q.SizeHigh,
		DateLow:     q.DateLow,
		DateHigh:    q.DateHigh,
		SortBy:      domain.SortKey(q.SortBy),
		AggregateBy: domain.Granularity(q.AggregateBy),
	}
	for _, op := range q.Operations {
		spec.Operations = append(spec.Operations, domain.Operation{Expression: op.Expression})
	}
	return spec
}

// QueryResponse is the success body of POST /v1/query.
type QueryResponse struct {
	Status           string   `json:"status"`
	Filename         string   `json:"filename"`
	Filepath         string   `json:"filepath"`
	Signature        string   `json:"signature"`
	Cached           bool     `json:"cached"`
	DownloadURL      string   `json:"download_url,omitempty"`
	UnknownExchanges []string `json:"unknown_exchanges,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobResponse is the body of GET /v1/jobs/{signature}.
type JobResponse struct {
	Signature    string     `json:"signature"`
	Status       string     `json:"status"`
	Filename     string     `json:"filename,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func jobToAPI(r *domain.JobRecord) JobResponse {
	return JobResponse{
		Signature:    r.Signature,
		Status:       string(r.Status),
		Filename:     r.Filename,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
