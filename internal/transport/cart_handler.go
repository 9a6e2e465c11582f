package transport

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"vet-cart/internal/cart"
	"vet-cart/internal/domain"
	"vet-cart/internal/middleware"
	"vet-cart/internal/repository"
	"vet-cart/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session key prefixes keep guest and user carts in separate namespaces
const (
	userSessionPrefix  = "user:"
	guestSessionPrefix = "guest:"
)

const maxTenantIDLen = 100

// AddItemRequest represents the add-to-cart payload. The line itself is
// built from the catalog; the client only names what it wants.
type AddItemRequest struct {
	Type      domain.LineKind    `json:"type" validate:"required,oneof=product service"`
	ProductID string             `json:"product_id" validate:"required_if=Type product,omitempty,uuid"`
	ServiceID string             `json:"service_id" validate:"required_if=Type service,omitempty,uuid"`
	Variant   string             `json:"variant_name" validate:"max=100"`
	Quantity  int                `json:"quantity" validate:"gte=1,lte=1000000000"`
	Pet       *domain.PetBinding `json:"pet"`
}

// UpdateQuantityRequest represents a signed quantity change
type UpdateQuantityRequest struct {
	Delta int `json:"delta" validate:"ne=0,min=-1000000000,max=1000000000"`
}

// CartHandler handles HTTP requests for cart operations
type CartHandler struct {
	cartService service.CartService
	logger      *zap.Logger
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(cartService service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		cartService: cartService,
		logger:      logger,
	}
}

// RegisterRoutes registers all cart routes. optionalAuth resolves shoppers;
// staffAuth guards the checkout-completion signal.
func (h *CartHandler) RegisterRoutes(r chi.Router, optionalAuth, staffAuth func(http.Handler) http.Handler, extra ...func(http.Handler) http.Handler) {
	r.Route("/api/clinics/{clinic}/cart", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.Use(extra...)

			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Get("/organized", h.GetOrganized)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{lineID}", h.UpdateQuantity)
			r.Delete("/items/{lineID}", h.RemoveItem)
			r.Get("/items/{lineID}/stock", h.GetStockStatus)
			r.Post("/merge", h.Merge)
		})

		r.Group(func(r chi.Router) {
			r.Use(staffAuth)
			r.Use(middleware.RequireRole(h.logger, middleware.RoleCheckout, middleware.RoleAdmin))
			r.Post("/sessions/{sessionKey}/checkout-complete", h.CompleteCheckout)
		})
	})
}

// tenantID reads the clinic from the path
func tenantID(r *http.Request) (string, bool) {
	tenant := chi.URLParam(r, "clinic")
	return tenant, tenant != "" && len(tenant) <= maxTenantIDLen
}

// resolveSession picks the cart the request acts on: the signed-in user's,
// or the guest session named by the X-Cart-Session header. A guest without a
// usable header gets a fresh session, echoed back in the response.
func (h *CartHandler) resolveSession(w http.ResponseWriter, r *http.Request) (service.Session, bool) {
	tenant, ok := tenantID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid clinic")
		return service.Session{}, false
	}

	if userID, ok := middleware.GetUserID(r.Context()); ok && userID != "" {
		return service.Session{
			Key:           cart.Key{TenantID: tenant, SessionKey: userSessionPrefix + userID},
			Authenticated: true,
		}, true
	}

	guestID, ok := guestSessionID(r)
	if !ok {
		guestID = uuid.NewString()
	}
	w.Header().Set(middleware.CartSessionHeader, guestID)

	return service.Session{
		Key: cart.Key{TenantID: tenant, SessionKey: guestSessionPrefix + guestID},
	}, true
}

// guestSessionID reads the guest session header in canonical uuid form
func guestSessionID(r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.Header.Get(middleware.CartSessionHeader))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// lineID reads the line id from the path. Ids contain ':' which clients may
// percent-encode.
func lineID(r *http.Request) string {
	raw := chi.URLParam(r, "lineID")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// decode handles the shared decode-and-validate error path
func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := middleware.DecodeAndValidate(r, v); err != nil {
		h.logger.Debug("Cart request validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return false
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// GetCart returns the cart snapshot
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.cartService.Get(r.Context(), sess))
}

// GetOrganized returns the cart grouped for checkout display
func (h *CartHandler) GetOrganized(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.cartService.Organized(r.Context(), sess))
}

// AddItem adds a catalog product or service to the cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		res cart.Result
		err error
	)
	switch req.Type {
	case domain.KindService:
		res, err = h.cartService.AddService(r.Context(), sess, service.AddServiceInput{
			ServiceID: uuid.MustParse(req.ServiceID),
			Variant:   req.Variant,
			Quantity:  req.Quantity,
			Pet:       req.Pet,
		})
	default:
		res, err = h.cartService.AddProduct(r.Context(), sess, service.AddProductInput{
			ProductID: uuid.MustParse(req.ProductID),
			Quantity:  req.Quantity,
			Pet:       req.Pet,
		})
	}

	if err != nil {
		switch {
		case errors.Is(err, repository.ErrProductNotFound):
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
		case errors.Is(err, repository.ErrServicePriceNotFound):
			middleware.RespondWithError(w, http.StatusNotFound, "service price not found")
		default:
			h.logger.Error("Failed to add item to cart", zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to add item to cart")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, res)
}

// UpdateQuantity changes a line's quantity by a signed delta
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if !h.decode(w, r, &req) {
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.cartService.UpdateQuantity(r.Context(), sess, lineID(r), req.Delta))
}

// RemoveItem deletes a line. Removing an absent line is not an error.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.cartService.RemoveItem(r.Context(), sess, lineID(r)))
}

// ClearCart empties the cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, h.cartService.Clear(r.Context(), sess))
}

// GetStockStatus reports how much headroom a line has left
func (h *CartHandler) GetStockStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	status, err := h.cartService.StockStatus(r.Context(), sess, lineID(r))
	if err != nil {
		middleware.RespondWithError(w, http.StatusNotFound, "item is not in the cart")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, status)
}

// Merge folds the guest cart named by the X-Cart-Session header into the
// signed-in caller's cart. The guest lines come from server-side storage, so
// their prices and stock snapshots are the ones the catalog gave at add time.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	if !sess.Authenticated {
		middleware.RespondWithError(w, http.StatusUnauthorized, "sign in to merge a guest cart")
		return
	}

	guestID, ok := guestSessionID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusBadRequest, "missing or invalid guest cart session")
		return
	}

	from := cart.Key{TenantID: sess.Key.TenantID, SessionKey: guestSessionPrefix + guestID}
	res := h.cartService.Merge(r.Context(), sess, from)
	if !res.Success {
		h.logger.Debug("Cart merge rejected", zap.String("reason", res.Message))
	}

	middleware.RespondWithJSON(w, http.StatusOK, res)
}

// CompleteCheckout is called by the checkout flow once an order is placed
func (h *CartHandler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(r)
	if !ok {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid clinic")
		return
	}

	sessionKey, err := url.PathUnescape(chi.URLParam(r, "sessionKey"))
	if err != nil || !validSessionKey(sessionKey) {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid session key")
		return
	}

	key := cart.Key{TenantID: tenant, SessionKey: sessionKey}
	if err := h.cartService.CompleteCheckout(r.Context(), key); err != nil {
		h.logger.Error("Failed to complete checkout", zap.Error(err), zap.String("cart", key.String()))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to clear cart")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func validSessionKey(key string) bool {
	if id, ok := strings.CutPrefix(key, userSessionPrefix); ok {
		return id != ""
	}
	if id, ok := strings.CutPrefix(key, guestSessionPrefix); ok {
		_, err := uuid.Parse(id)
		return err == nil
	}
	return false
}
