package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/service/orders"
)

const codePaymentDeclined = "payment_declined"

// decodeBody читает JSON-тело. Пустое тело допустимо, если allowEmpty.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Validation(err, "cuerpo JSON inválido")
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validation(err, "parámetro %s inválido: %q", name, raw)
	}
	return v, nil
}

func pageRequest(r *http.Request) (orders.PageRequest, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return orders.PageRequest{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return orders.PageRequest{}, err
	}
	return orders.PageRequest{Page: page, Limit: limit}, nil
}

func (h *Handler) writePage(w http.ResponseWriter, page orders.Page) {
	writeList(w, newOrderList(page.Orders), len(page.Orders), &pagination{
		Page:  page.Page,
		Limit: page.Limit,
		Total: page.Total,
		Pages: page.Pages,
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	order, err := h.orders.Create(r.Context(), actorFrom(r.Context()), req.toInput())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	page, err := h.orders.ListMine(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writePage(w, page)
}

func (h *Handler) distributorOrders(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	page, err := h.orders.ListDistributor(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writePage(w, page)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	query := orders.ListQuery{
		PageRequest: req,
		Status:      r.URL.Query().Get("status"),
		OrderType:   r.URL.Query().Get("orderType"),
	}
	page, err := h.orders.ListAll(r.Context(), actorFrom(r.Context()), query)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writePage(w, page)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{Type: e.Type, Reason: e.Reason, ActorID: e.ActorID, Occurred: e.Occurred})
	}
	writeList(w, out, len(out), nil)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	order, err := h.orders.UpdateStatus(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), orders.StatusUpdate{
		Status: req.Status,
		IsPaid: req.IsPaid,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) recalculateTax(w http.ResponseWriter, r *http.Request) {
	var req taxRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.TaxRate == nil {
		writeError(w, h.logger, domain.Validation(domain.ErrTaxRateInvalid, "se requiere taxRate"))
		return
	}
	report, err := h.orders.RecalculateTax(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), *req.TaxRate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, taxReportResponse{
		PreviousTaxRate:  report.PreviousTaxRate,
		NewTaxRate:       report.NewTaxRate,
		PreviousTaxPrice: report.PreviousTaxPrice,
		NewTaxPrice:      report.NewTaxPrice,
		RecalculatedBy:   report.RecalculatedBy,
		RecalculatedAt:   report.RecalculatedAt,
	})
}

// payOrder отвечает 402 с заказом в data, если провайдер отклонил платёж.
func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Pay(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !order.IsPaid {
		message := "pago rechazado"
		if n := len(order.PaymentResults); n > 0 && order.PaymentResults[n-1].Message != "" {
			message = order.PaymentResults[n-1].Message
		}
		writeJSON(w, http.StatusPaymentRequired, envelope{
			Success: false,
			Data:    newOrderResponse(order),
			Error:   message,
			Code:    codePaymentDeclined,
		})
		return
	}
	writeData(w, http.StatusOK, newOrderResponse(order))
}
