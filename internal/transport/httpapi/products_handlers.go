package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/autoparts/internal/service/catalog"
)

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, newProductResponse(product))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	product, err := h.catalog.Create(r.Context(), actorFrom(r.Context()), catalog.ProductInput{
		ID:             req.ID,
		Slug:           req.Slug,
		Name:           req.Name,
		SKU:            req.SKU,
		Price:          req.Price,
		WholesalePrice: req.WholesalePrice,
		StockQuantity:  req.StockQuantity,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, newProductResponse(product))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productPatchRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	product, err := h.catalog.Update(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), catalog.ProductPatch{
		Name:           req.Name,
		Price:          req.Price,
		WholesalePrice: req.WholesalePrice,
		ClearWholesale: req.ClearWholesale,
		StockQuantity:  req.StockQuantity,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, newProductResponse(product))
}
