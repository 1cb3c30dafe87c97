package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"ticketpool/internal/services"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/logger"
)

const serviceKey = "ticketService"

// HTTPHandler exposes the ticket service of each tenant over HTTP.
type HTTPHandler struct {
	tenants *services.Tenants
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(tenants *services.Tenants) *HTTPHandler {
	return &HTTPHandler{tenants: tenants}
}

// RegisterPublicRoutes registers the routes that need no tenant.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
}

// RegisterTenantRoutes registers the ticket routes. The group must run TenantMiddleware.
func (h *HTTPHandler) RegisterTenantRoutes(group *gin.RouterGroup) {
	tickets := group.Group("/tickets")
	tickets.POST("/create", h.CreatePool)
	tickets.POST("/all-tickets", h.ListAll)
	tickets.POST("/find", h.ListAvailable)
	tickets.POST("/findAvailable", h.CheckAvailability)
	tickets.POST("/end-with", h.FindBySuffix)
	tickets.POST("/random", h.PickRandom)
	tickets.PATCH("/update", h.UpdateTickets)
	tickets.POST("/reset", h.Reset)
	tickets.POST("/delete", h.DeletePool)
	tickets.POST("/count", h.CountAvailable)
	tickets.POST("/winner", h.SelectWinner)
	tickets.POST("/update-user", h.UpdateUser)
	tickets.POST("/create-compra", h.CreatePurchase)
	tickets.POST("/update-compra", h.UpdatePurchase)
	tickets.POST("/delete-compra", h.DeletePurchase)
}

// TenantMiddleware resolves the tenant of the request host and makes its
// service available to the handlers.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		service, release, err := h.tenants.Acquire(c.Request.Host)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		defer release()
		c.Set(serviceKey, service)
		c.Next()
	}
}

func serviceFrom(c *gin.Context) *services.TicketService {
	return c.MustGet(serviceKey).(*services.TicketService)
}

// Health reports that the process is serving.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrPartialFetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"message": err.Error()}
	var stepErr *services.WinnerStepError
	if errors.As(err, &stepErr) {
		body["step"] = stepErr.Step
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, body)
}

// bind decodes the JSON body into v, answering 400 itself when it cannot.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

// CreatePool handles the creation of a lottery's ticket pool.
func (h *HTTPHandler) CreatePool(c *gin.Context) {
	var req services.CreatePoolRequest
	if !bind(c, &req) {
		return
	}
	result, err := serviceFrom(c).CreatePool(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"message": result.Message, "data": result})
}

// ListAll returns every ticket of a lottery.
func (h *HTTPHandler) ListAll(c *gin.Context) {
	var req services.LotteryRequest
	if !bind(c, &req) {
		return
	}
	tickets, err := serviceFrom(c).ListAll(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tickets retrieved successfully", "data": tickets})
}

// ListAvailable returns the available tickets of a lottery.
func (h *HTTPHandler) ListAvailable(c *gin.Context) {
	var req services.LotteryRequest
	if !bind(c, &req) {
		return
	}
	tickets, err := serviceFrom(c).ListAvailable(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Available tickets retrieved successfully", "data": tickets})
}

// CheckAvailability classifies a list of tickets as available or not.
func (h *HTTPHandler) CheckAvailability(c *gin.Context) {
	var reqs []services.AvailabilityRequest
	if !bind(c, &reqs) {
		return
	}
	result, err := serviceFrom(c).CheckAvailability(c.Request.Context(), reqs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// FindBySuffix returns the available tickets ending with the given digits.
func (h *HTTPHandler) FindBySuffix(c *gin.Context) {
	var req services.SuffixRequest
	if !bind(c, &req) {
		return
	}
	tickets, err := serviceFrom(c).FindBySuffix(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tickets found successfully", "data": tickets})
}

// PickRandom returns a random sample of available tickets.
func (h *HTTPHandler) PickRandom(c *gin.Context) {
	var req services.RandomRequest
	if !bind(c, &req) {
		return
	}
	tickets, err := serviceFrom(c).PickRandom(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Random tickets selected successfully", "data": tickets})
}

// UpdateTickets accepts either one transition object or an array of them.
// A single object reports its error directly; an array reports per-ticket lists.
func (h *HTTPHandler) UpdateTickets(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return
	}
	service := serviceFrom(c)

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []services.TransitionRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
			return
		}
		result, err := service.UpdateTickets(c.Request.Context(), reqs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	var req services.TransitionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body: " + err.Error()})
		return
	}
	if err := service.UpdateTicket(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ticket updated successfully"})
}

// Reset releases every unpaid ticket of a lottery.
func (h *HTTPHandler) Reset(c *gin.Context) {
	var req services.LotteryRequest
	if !bind(c, &req) {
		return
	}
	n, err := serviceFrom(c).Reset(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tickets reset successfully", "data": gin.H{"count": n}})
}

// DeletePool removes a lottery's pool.
func (h *HTTPHandler) DeletePool(c *gin.Context) {
	var req services.LotteryRequest
	if !bind(c, &req) {
		return
	}
	n, err := serviceFrom(c).DeletePool(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tickets deleted successfully", "data": gin.H{"count": n}})
}

// CountAvailable counts the available tickets of a lottery.
func (h *HTTPHandler) CountAvailable(c *gin.Context) {
	var req services.LotteryRequest
	if !bind(c, &req) {
		return
	}
	n, err := serviceFrom(c).CountAvailable(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Available tickets counted successfully", "data": gin.H{"count": n}})
}

// SelectWinner records a paid ticket as the lottery's winner.
func (h *HTTPHandler) SelectWinner(c *gin.Context) {
	var req services.WinnerRequest
	if !bind(c, &req) {
		return
	}
	result, err := serviceFrom(c).SelectWinner(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": result.Message, "data": result})
}

// UpdateUser patches a user's profile.
func (h *HTTPHandler) UpdateUser(c *gin.Context) {
	var req services.UserUpdateRequest
	if !bind(c, &req) {
		return
	}
	if err := serviceFrom(c).UpdateUser(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User updated successfully"})
}

// CreatePurchase stores a purchase.
func (h *HTTPHandler) CreatePurchase(c *gin.Context) {
	var req services.PurchaseCreateRequest
	if !bind(c, &req) {
		return
	}
	purchase, err := serviceFrom(c).CreatePurchase(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Purchase created successfully", "data": purchase})
}

// UpdatePurchase patches a purchase.
func (h *HTTPHandler) UpdatePurchase(c *gin.Context) {
	var req services.PurchaseUpdateRequest
	if !bind(c, &req) {
		return
	}
	if err := serviceFrom(c).UpdatePurchase(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Purchase updated successfully"})
}

// DeletePurchase removes a purchase.
func (h *HTTPHandler) DeletePurchase(c *gin.Context) {
	var req services.PurchaseDeleteRequest
	if !bind(c, &req) {
		return
	}
	if err := serviceFrom(c).DeletePurchase(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Purchase deleted successfully"})
}
