package api

import (
	"net/http"

	"jewelry-store/internal/models"
	"jewelry-store/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// productRequest is the body of product create and replace calls
type productRequest struct {
	Name          string           `json:"name" binding:"required,min=2,max=200"`
	Description   string           `json:"description" binding:"max=2000"`
	Price         decimal.Decimal  `json:"price"`
	Stock         *int             `json:"stock" binding:"required"`
	SKU           *string          `json:"sku"`
	DiscountPrice *decimal.Decimal `json:"discount_price"`
	Featured      bool             `json:"featured"`
	Active        *bool            `json:"active"`
}

func (r *productRequest) toProduct() *models.Product {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &models.Product{
		Name:          r.Name,
		Description:   r.Description,
		Price:         r.Price,
		Stock:         *r.Stock,
		SKU:           r.SKU,
		DiscountPrice: r.DiscountPrice,
		Featured:      r.Featured,
		Active:        active,
	}
}

type stockRequest struct {
	Stock *int `json:"stock" binding:"required"`
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

// listProducts serves the active catalog, optionally narrowed by name,
// featured, on_sale, min_price and max_price query parameters
func (h *Handler) listProducts(c *gin.Context) {
	filter := service.ProductFilter{
		Name:     c.Query("name"),
		Featured: c.Query("featured") == "true",
		OnSale:   c.Query("on_sale") == "true",
	}
	var ok bool
	if filter.MinPrice, ok = queryDecimal(c, "min_price"); !ok {
		return
	}
	if filter.MaxPrice, ok = queryDecimal(c, "max_price"); !ok {
		return
	}

	var (
		products []models.Product
		err      error
	)
	if filter.IsZero() {
		products, err = h.productService.ListActiveProducts(c.Request.Context())
	} else {
		products, err = h.productService.SearchProducts(c.Request.Context(), filter)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// queryDecimal reads an optional decimal query parameter, answering 400
// when it does not parse
func queryDecimal(c *gin.Context, name string) (*decimal.Decimal, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name, "details": err.Error()})
		return nil, false
	}
	return &v, true
}

func (h *Handler) getProductBySKU(c *gin.Context) {
	product, err := h.productService.GetProductBySKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) patchProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var patch service.ProductPatch
	if !bindJSON(c, &patch) {
		return
	}

	product, err := h.productService.PatchProduct(c.Request.Context(), id, &patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	product, err := h.productService.GetProductByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req productRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), req.toProduct())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req productRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.UpdateProduct(c.Request.Context(), id, req.toProduct())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.productService.DeleteProduct(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) updateStock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req stockRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.UpdateStock(c.Request.Context(), id, *req.Stock)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) updatePrice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req priceRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.UpdatePrice(c.Request.Context(), id, req.Price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) reduceStock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.ReduceStock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) increaseStock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.productService.IncreaseStock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
