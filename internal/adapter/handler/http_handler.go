package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
	"github.com/rl1809/bookstore-backoffice/internal/core/service"
)

type HTTPHandler struct {
	orderService     *service.OrderService
	warehouseService *service.WarehouseService
	logger           *zap.Logger
}

func NewHTTPHandler(orderService *service.OrderService, warehouseService *service.WarehouseService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{orderService: orderService, warehouseService: warehouseService, logger: logger}
}

// NewRouter mounts the REST API and the health check on a chi router.
func NewRouter(h *HTTPHandler) http.Handler {
	router := chi.NewRouter()
	router.Get("/health", h.HealthCheck)
	api := humachi.New(router, huma.DefaultConfig("Bookstore Backoffice", "1.0.0"))
	h.Register(api)
	return router
}

// --- Request/Response Types ---

type OrderLine struct {
	BookID   string `json:"book_id" minLength:"1" doc:"ISBN of the book"`
	Quantity int    `json:"quantity" minimum:"1" doc:"Number of copies"`
}

type OrderContent struct {
	ClientID string      `json:"client_id" minLength:"1" doc:"Client placing the order"`
	Items    []OrderLine `json:"items" minItems:"1" doc:"Order lines"`
}

type SoldItemBody struct {
	ID       string `json:"id"`
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price" doc:"Unit price captured when the order was placed"`
}

type OrderBody struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id"`
	Status    string         `json:"status"`
	Total     string         `json:"total"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Items     []SoldItemBody `json:"items"`
}

type StockBody struct {
	BookID    string    `json:"book_id"`
	Quantity  int       `json:"quantity"`
	Price     string    `json:"price"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RequestOrderCreate struct {
	RequestID string `header:"Idempotency-Key" doc:"Optional key making the request safe to retry"`
	Body      OrderContent
}

type RequestOrderUpdate struct {
	ID   string `path:"id" doc:"Order ID"`
	Body OrderContent
}

type RequestOrderStatus struct {
	ID     string `path:"id" doc:"Order ID"`
	Status string `query:"status" required:"true" doc:"Target status"`
}

type RequestOrderGet struct {
	ID string `path:"id" doc:"Order ID"`
}

type RequestOrderList struct {
	ID       string `query:"id" doc:"Filter by order ID"`
	ClientID string `query:"client_id" doc:"Filter by client"`
	Status   string `query:"status" doc:"Filter by status"`
	From     string `query:"from" doc:"Created at or after, RFC 3339"`
	To       string `query:"to" doc:"Created at or before, RFC 3339"`
	Page     int    `query:"page" minimum:"0" maximum:"1000000" doc:"Zero based page"`
	Limit    int    `query:"limit" minimum:"0" maximum:"500" doc:"Page size"`
}

type RequestStockUpsert struct {
	Body struct {
		BookID   string `json:"book_id" minLength:"1" doc:"ISBN of the book"`
		Quantity int    `json:"quantity" doc:"Quantity on hand, negative values are stored as 0"`
		Price    string `json:"price" pattern:"^[0-9]+(\\.[0-9]{1,2})?$" doc:"Current price"`
	}
}

type RequestStockGet struct {
	ISBN string `path:"isbn" doc:"ISBN of the book"`
}

type RequestStockRestock struct {
	ISBN     string `path:"isbn" doc:"ISBN of the book"`
	Quantity int    `query:"quantity" minimum:"0" doc:"Copies to add"`
	Price    string `query:"price" doc:"New price with at most two decimals, ignored unless positive"`
}

type RequestStockList struct {
	BookID      string `query:"isbn" doc:"Filter by ISBN"`
	PriceFrom   string `query:"price_from" doc:"Minimum price"`
	PriceTo     string `query:"price_to" doc:"Maximum price"`
	MinQuantity int    `query:"quantity" minimum:"0" doc:"Minimum quantity on hand"`
	Page        int    `query:"page" minimum:"0" maximum:"1000000" doc:"Zero based page"`
	Limit       int    `query:"limit" minimum:"0" maximum:"500" doc:"Page size"`
}

type ResponseOrder struct {
	Body OrderBody
}

type ResponseOrderList struct {
	Body []OrderBody
}

type ResponseStock struct {
	Body StockBody
}

type ResponseStockList struct {
	Body []StockBody
}

// Register registers all order and warehouse endpoints
func (h *HTTPHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "order-create",
		Summary:       "Create an order",
		Method:        http.MethodPost,
		Path:          "/api/v1/orders",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"Orders"},
	}, h.CreateOrder)

	huma.Register(api, huma.Operation{
		OperationID: "order-list",
		Summary:     "Search orders",
		Method:      http.MethodGet,
		Path:        "/api/v1/orders",
		Tags:        []string{"Orders"},
	}, h.ListOrders)

	huma.Register(api, huma.Operation{
		OperationID: "order-get",
		Summary:     "Get order",
		Method:      http.MethodGet,
		Path:        "/api/v1/orders/{id}",
		Tags:        []string{"Orders"},
	}, h.GetOrder)

	huma.Register(api, huma.Operation{
		OperationID: "order-update",
		Summary:     "Replace client and lines of a NEW order",
		Method:      http.MethodPut,
		Path:        "/api/v1/orders/{id}",
		Tags:        []string{"Orders"},
	}, h.UpdateOrder)

	huma.Register(api, huma.Operation{
		OperationID: "order-status",
		Summary:     "Change order status",
		Method:      http.MethodPatch,
		Path:        "/api/v1/orders/{id}",
		Tags:        []string{"Orders"},
	}, h.UpdateStatus)

	huma.Register(api, huma.Operation{
		OperationID: "stock-upsert",
		Summary:     "Create or replace a warehouse entry",
		Method:      http.MethodPost,
		Path:        "/api/v1/warehouse",
		Tags:        []string{"Warehouse"},
	}, h.UpsertStock)

	huma.Register(api, huma.Operation{
		OperationID: "stock-list",
		Summary:     "Search warehouse entries",
		Method:      http.MethodGet,
		Path:        "/api/v1/warehouse",
		Tags:        []string{"Warehouse"},
	}, h.ListStock)

	huma.Register(api, huma.Operation{
		OperationID: "stock-get",
		Summary:     "Get warehouse entry",
		Method:      http.MethodGet,
		Path:        "/api/v1/warehouse/{isbn}",
		Tags:        []string{"Warehouse"},
	}, h.GetStock)

	huma.Register(api, huma.Operation{
		OperationID: "stock-restock",
		Summary:     "Add copies and optionally change the price",
		Method:      http.MethodPut,
		Path:        "/api/v1/warehouse/{isbn}",
		Tags:        []string{"Warehouse"},
	}, h.Restock)
}

func (h *HTTPHandler) CreateOrder(ctx context.Context, req *RequestOrderCreate) (*ResponseOrder, error) {
	order, err := h.orderService.CreateOrderOnce(ctx, req.RequestID, req.Body.toDomain())
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseOrder{Body: toOrderBody(order)}, nil
}

func (h *HTTPHandler) ListOrders(ctx context.Context, req *RequestOrderList) (*ResponseOrderList, error) {
	filter := domain.OrderFilter{
		ID:       req.ID,
		ClientID: req.ClientID,
		Status:   domain.OrderStatus(req.Status),
		Page:     req.Page,
		Limit:    req.Limit,
	}
	var err error
	if filter.CreatedFrom, err = parseTime(req.From); err != nil {
		return nil, huma.Error400BadRequest("invalid from", err)
	}
	if filter.CreatedTo, err = parseTime(req.To); err != nil {
		return nil, huma.Error400BadRequest("invalid to", err)
	}

	orders, err := h.orderService.SearchOrders(ctx, filter)
	if err != nil {
		return nil, h.schemaError(err)
	}
	body := make([]OrderBody, 0, len(orders))
	for _, o := range orders {
		body = append(body, toOrderBody(o))
	}
	return &ResponseOrderList{Body: body}, nil
}

func (h *HTTPHandler) GetOrder(ctx context.Context, req *RequestOrderGet) (*ResponseOrder, error) {
	order, err := h.orderService.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseOrder{Body: toOrderBody(order)}, nil
}

func (h *HTTPHandler) UpdateOrder(ctx context.Context, req *RequestOrderUpdate) (*ResponseOrder, error) {
	order, err := h.orderService.UpdateOrder(ctx, req.ID, req.Body.toDomain())
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseOrder{Body: toOrderBody(order)}, nil
}

func (h *HTTPHandler) UpdateStatus(ctx context.Context, req *RequestOrderStatus) (*ResponseOrder, error) {
	order, err := h.orderService.UpdateStatus(ctx, req.ID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseOrder{Body: toOrderBody(order)}, nil
}

func (h *HTTPHandler) UpsertStock(ctx context.Context, req *RequestStockUpsert) (*ResponseStock, error) {
	price, err := decimal.NewFromString(req.Body.Price)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid price", err)
	}
	item, err := h.warehouseService.Upsert(ctx, domain.StockItem{
		BookID:   req.Body.BookID,
		Quantity: req.Body.Quantity,
		Price:    price,
	})
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseStock{Body: toStockBody(item)}, nil
}

func (h *HTTPHandler) ListStock(ctx context.Context, req *RequestStockList) (*ResponseStockList, error) {
	filter := domain.StockFilter{
		BookID:      req.BookID,
		MinQuantity: req.MinQuantity,
		Page:        req.Page,
		Limit:       req.Limit,
	}
	var err error
	if filter.PriceFrom, err = parsePrice(req.PriceFrom); err != nil {
		return nil, huma.Error400BadRequest("invalid price_from", err)
	}
	if filter.PriceTo, err = parsePrice(req.PriceTo); err != nil {
		return nil, huma.Error400BadRequest("invalid price_to", err)
	}

	items, err := h.warehouseService.SearchStock(ctx, filter)
	if err != nil {
		return nil, h.schemaError(err)
	}
	body := make([]StockBody, 0, len(items))
	for _, item := range items {
		body = append(body, toStockBody(item))
	}
	return &ResponseStockList{Body: body}, nil
}

func (h *HTTPHandler) GetStock(ctx context.Context, req *RequestStockGet) (*ResponseStock, error) {
	item, err := h.warehouseService.Get(ctx, req.ISBN)
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseStock{Body: toStockBody(item)}, nil
}

func (h *HTTPHandler) Restock(ctx context.Context, req *RequestStockRestock) (*ResponseStock, error) {
	price, err := parsePrice(req.Price)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid price", err)
	}
	item, err := h.warehouseService.Return(ctx, req.ISBN, req.Quantity, price)
	if err != nil {
		return nil, h.schemaError(err)
	}
	return &ResponseStock{Body: toStockBody(item)}, nil
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// schemaError maps domain errors to HTTP status codes
func (h *HTTPHandler) schemaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return huma.Error406NotAcceptable(err.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCannotModifyOrder),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice):
		return huma.Error400BadRequest(err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		return huma.Error500InternalServerError("internal error")
	}
}

func (c OrderContent) toDomain() domain.Order {
	order := domain.Order{ClientID: c.ClientID, Items: make([]domain.SoldItem, 0, len(c.Items))}
	for _, line := range c.Items {
		order.Items = append(order.Items, domain.SoldItem{BookID: line.BookID, Quantity: line.Quantity})
	}
	return order
}

func toOrderBody(o domain.Order) OrderBody {
	body := OrderBody{
		ID:        o.ID,
		ClientID:  o.ClientID,
		Status:    string(o.Status),
		Total:     o.Total().StringFixed(2),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
		Items:     make([]SoldItemBody, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		body.Items = append(body.Items, SoldItemBody{
			ID:       item.ID,
			BookID:   item.BookID,
			Quantity: item.Quantity,
			Price:    item.Price.StringFixed(2),
		})
	}
	return body
}

func toStockBody(item domain.StockItem) StockBody {
	return StockBody{
		BookID:    item.BookID,
		Quantity:  item.Quantity,
		Price:     item.Price.StringFixed(2),
		Version:   item.Version,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parsePrice(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("price %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}
