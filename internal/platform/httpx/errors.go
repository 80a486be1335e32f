// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/wattshare/wattshare/internal/billing"
)

// ErrMalformedBody marks a request body that could not be decoded.
var ErrMalformedBody = errors.New("malformed request body")

type errorMapping struct {
	kinds  []error
	status int
	title  string
}

var errorMappings = []errorMapping{
	{
		kinds: []error{
			billing.ErrSettlementNotFound, billing.ErrUnitBillNotFound, billing.ErrBuildingBillNotFound,
			billing.ErrUnitNotFound, billing.ErrTenantNotFound,
		},
		status: http.StatusNotFound,
		title:  "Not Found",
	},
	{
		kinds: []error{
			billing.ErrAlreadyRegistered, billing.ErrAlreadyCancelled, billing.ErrInvalidTransition,
			billing.ErrBuildingBillExists, billing.ErrCycleAlreadyAllocated, billing.ErrPaidBillsBlockRollback,
		},
		status: http.StatusConflict,
		title:  "Conflict",
	},
	{
		kinds: []error{
			billing.ErrZeroBuildingUsage, billing.ErrNegativeUsage, billing.ErrUsageExceedsBuilding,
			billing.ErrNoHistoricalData, billing.ErrNoActiveTenant,
		},
		status: http.StatusUnprocessableEntity,
		title:  "Unprocessable Billing Input",
	},
	{
		kinds:  []error{billing.ErrInvalidInput, ErrMalformedBody},
		status: http.StatusBadRequest,
		title:  "Validation Failed",
	},
}

// StatusFor returns the HTTP status an error maps to.
func StatusFor(err error) int {
	status, _ := classify(err)
	return status
}

func classify(err error) (int, string) {
	if billing.IsTxFailure(err) {
		return http.StatusInternalServerError, "Transaction Failed"
	}
	for _, m := range errorMappings {
		for _, kind := range m.kinds {
			if errors.Is(err, kind) {
				return m.status, m.title
			}
		}
	}
	return http.StatusInternalServerError, "Internal Error"
}

// RespondError maps domain errors to HTTP responses using RFC7807. Details of
// unexpected failures are not echoed to the client.
func RespondError(w http.ResponseWriter, err error) {
	status, title := classify(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, title, "")
		return
	}
	Problem(w, status, title, err.Error())
}
