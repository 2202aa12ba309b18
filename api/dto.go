/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  domain model from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Field presence and range checks live in the billing package; handlers
  only parse JSON and translate errors.
*/
package api

import (
	"time"

	"github.com/samber/lo"
	"github.com/warp/invoicing-engine/billing"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AppendOperationRequest is the request to record a lifecycle event.
// Quantity and pricePerDay are required iff type == "start".
type AppendOperationRequest struct {
	ClientID    string  `json:"clientId"`
	ServiceID   string  `json:"serviceId"`
	Type        string  `json:"type"`
	Date        string  `json:"date"`
	Quantity    *int    `json:"quantity,omitempty"`
	PricePerDay *string `json:"pricePerDay,omitempty"`
}

// GenerateInvoicesRequest names the billing period to generate.
type GenerateInvoicesRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// IDResponse carries the id of a newly created resource.
type IDResponse struct {
	ID string `json:"id"`
}

type OperationDTO struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	ServiceID string `json:"serviceId"`
	Type      string `json:"type"`
	Date      string `json:"date"`
}

type InvoiceItemDTO struct {
	ServiceID   string `json:"serviceId"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Value       string `json:"value"`
	IsSuspended bool   `json:"isSuspended"`
}

type InvoiceDTO struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"clientId"`
	Year      int              `json:"year"`
	Month     int              `json:"month"`
	CreatedAt string           `json:"createdAt"`
	Items     []InvoiceItemDTO `json:"items"`
}

type SuccessfulInvoiceDTO struct {
	ClientID  string `json:"clientId"`
	InvoiceID string `json:"invoiceId"`
}

type FailedInvoiceDTO struct {
	ClientID string `json:"clientId"`
	Reason   string `json:"reason"`
}

// PeriodReportDTO is the per-client outcome of a generation run.
type PeriodReportDTO struct {
	SuccessfulInvoices []SuccessfulInvoiceDTO `json:"successfulInvoices"`
	FailedInvoices     []FailedInvoiceDTO     `json:"failedInvoices"`
}

// PageDTO wraps a paginated invoice listing.
type PageDTO struct {
	Items      []InvoiceDTO `json:"items"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalCount int          `json:"totalCount"`
}

// ErrorResponse is the standard error response. Details carries the
// structured field-error list for input-shape rejections.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toOperationDTO(op billing.Operation) OperationDTO {
	return OperationDTO{
		ID:        string(op.ID),
		ClientID:  string(op.ClientID),
		ServiceID: string(op.ServiceID),
		Type:      string(op.Type),
		Date:      op.Date.String(),
	}
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:        string(inv.ID),
		ClientID:  string(inv.ClientID),
		Year:      inv.Year,
		Month:     int(inv.Month),
		CreatedAt: inv.CreatedAt.UTC().Format(time.RFC3339),
		Items: lo.Map(inv.Items, func(item billing.InvoiceItem, _ int) InvoiceItemDTO {
			return InvoiceItemDTO{
				ServiceID:   string(item.ServiceID),
				StartDate:   item.StartDate.String(),
				EndDate:     item.EndDate.String(),
				Value:       item.Value.String(),
				IsSuspended: item.IsSuspended,
			}
		}),
	}
}

func toPeriodReportDTO(report billing.PeriodReport) PeriodReportDTO {
	dto := PeriodReportDTO{
		SuccessfulInvoices: []SuccessfulInvoiceDTO{},
		FailedInvoices:     []FailedInvoiceDTO{},
	}
	for _, s := range report.Successful {
		dto.SuccessfulInvoices = append(dto.SuccessfulInvoices, SuccessfulInvoiceDTO{
			ClientID:  string(s.ClientID),
			InvoiceID: string(s.InvoiceID),
		})
	}
	for _, f := range report.Failed {
		dto.FailedInvoices = append(dto.FailedInvoices, FailedInvoiceDTO{
			ClientID: string(f.ClientID),
			Reason:   f.Reason,
		})
	}
	return dto
}
