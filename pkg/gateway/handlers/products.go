package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-go/vai-catalog/pkg/catalog"
	"github.com/vango-go/vai-catalog/pkg/core"
	"github.com/vango-go/vai-catalog/pkg/gateway/mw"
)

// ProductsHandler serves GET /v1/products with the same term mapping voice
// tool calls use.
type ProductsHandler struct {
	App Controller
}

type productsResponse struct {
	Criteria catalog.Criteria  `json:"criteria"`
	Products []catalog.Product `json:"products"`
	Count    int               `json:"count"`
}

func (h ProductsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	var maxPrice *float64
	if raw := strings.TrimSpace(q.Get("max_price")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			reqID, _ := mw.RequestIDFrom(r.Context())
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("max_price must be a number", "max_price"), http.StatusBadRequest)
			return
		}
		maxPrice = &v
	}

	products, criteria, err := h.App.Search(r.Context(), strings.TrimSpace(q.Get("category")), strings.TrimSpace(q.Get("color")), maxPrice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	w.Header().Set("X-Result-Count", strconv.Itoa(len(products)))
	writeJSON(w, http.StatusOK, productsResponse{Criteria: criteria, Products: products, Count: len(products)})
}
