package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/carauction/internal/apperr"
	"github.com/xtrntr/carauction/internal/auth"
	"github.com/xtrntr/carauction/internal/bidding"
	"github.com/xtrntr/carauction/internal/deposit"
	"github.com/xtrntr/carauction/internal/fraud"
	"github.com/xtrntr/carauction/internal/lifecycle"
	"github.com/xtrntr/carauction/internal/models"
	"github.com/xtrntr/carauction/internal/notify"
	"github.com/xtrntr/carauction/internal/rules"
)

type ctxKey struct{}

// ListingStore creates listings for admins
type ListingStore interface {
	CreateListing(ctx context.Context, listing *models.Listing) error
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	AuthService *auth.AuthService
	Bidding     *bidding.Service
	Fraud       *fraud.Engine
	Lifecycle   *lifecycle.Manager
	Deposits    *deposit.Gate
	Listings    ListingStore
	Hub         *notify.Hub
	Logger      *logrus.Logger
}

// Router mounts every endpoint
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/auctions/{id}", h.GetAuction)
	r.Get("/auctions/{id}/bids", h.GetBids)
	r.Get("/auctions/{id}/minimum-bid", h.GetMinimumBid)
	r.Get("/ws", h.WebSocket)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/auctions/{id}/bids", h.PlaceBid)
		r.Post("/auctions/{id}/deposit", h.HoldDeposit)

		r.Group(func(r chi.Router) {
			r.Use(h.AdminOnly)
			r.Post("/listings", h.CreateListing)
			r.Post("/auctions", h.CreateAuction)
			r.Post("/auctions/{id}/end", h.EndAuction)
			r.Get("/fraud/alerts", h.ListAlerts)
			r.Post("/fraud/alerts/{id}/review", h.ReviewAlert)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// fail maps service errors onto HTTP statuses
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case apperr.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	case apperr.KindFraudBlocked:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.Logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		http.Error(w, `{"error": "Internal server error"}`, http.StatusInternalServerError)
	}
}

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*auth.Claims)
	return c, ok
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func clientIP(r *http.Request) *string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return nil
	}
	return &host
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string  `json:"username"`
		Password string  `json:"password"`
		Country  *string `json:"country"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.Country)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := h.AuthService.ParseToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects tokens without the admin claim
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r.Context())
		if !ok || !claims.IsAdmin {
			http.Error(w, `{"error": "Admin access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publicAuction hides the winner's account behind their bidder number
type publicAuction struct {
	*models.Auction
	WinnerID            *uuid.UUID `json:"winner_id,omitempty"`
	WinningBidderNumber int        `json:"winning_bidder_number,omitempty"`
}

// GetAuction returns the public auction view
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}
	auction, err := h.Bidding.Auction(r.Context(), auctionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view := publicAuction{Auction: auction}
	if auction.WinnerID.Valid {
		bids, err := h.Bidding.Bids(r.Context(), auctionID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, b := range bids {
			if b.IsWinning {
				view.WinningBidderNumber = b.BidderNumber
			}
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// GetBids returns the anonymized bid history
func (h *Handler) GetBids(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}
	bids, err := h.Bidding.Bids(r.Context(), auctionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// GetMinimumBid returns the lowest acceptable next bid
func (h *Handler) GetMinimumBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}
	minimum, err := h.Bidding.MinimumBid(r.Context(), auctionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"minimum_bid": minimum.StringFixed(2)})
}

// PlaceBid runs the deposit gate and fraud checks, then places the bid
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	auctionID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		http.Error(w, `{"error": "Bid amount must be positive"}`, http.StatusBadRequest)
		return
	}
	if !rules.WholeCents(req.Amount) {
		http.Error(w, `{"error": "Bid amount must have at most two decimal places"}`, http.StatusBadRequest)
		return
	}

	if err := h.Deposits.Require(r.Context(), claims.UserID, auctionID); err != nil {
		h.fail(w, r, err)
		return
	}

	ip := clientIP(r)
	var ua *string
	if s := r.UserAgent(); s != "" {
		ua = &s
	}

	check, err := h.Fraud.RunBidFraudChecks(r.Context(), fraud.CheckInput{
		UserID:    claims.UserID,
		AuctionID: auctionID,
		BidAmount: req.Amount,
		IPAddress: ip,
		UserAgent: ua,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !check.Passed {
		// Details stay with reviewers; clients get the type and reason
		type blocked struct {
			Type   models.AlertType `json:"type"`
			Reason string           `json:"reason"`
		}
		alerts := make([]blocked, 0, len(check.Alerts))
		for _, a := range check.Alerts {
			alerts = append(alerts, blocked{Type: a.Type, Reason: a.Reason})
		}
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":  apperr.FraudBlocked("Bid blocked by fraud checks").Error(),
			"alerts": alerts,
		})
		return
	}

	result, err := h.Bidding.PlaceBid(r.Context(), bidding.Request{
		AuctionID: auctionID,
		BidderID:  claims.UserID,
		Amount:    req.Amount,
		IPAddress: ip,
		UserAgent: ua,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HoldDeposit records a deposit for the caller
func (h *Handler) HoldDeposit(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	auctionID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if _, err := h.Bidding.Auction(r.Context(), auctionID); err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.Deposits.Hold(r.Context(), claims.UserID, auctionID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     d.ID,
		"amount": d.Amount,
		"status": d.Status,
	})
}

// CreateListing registers an approved listing
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID      uuid.UUID           `json:"seller_id"`
		Title         string              `json:"title"`
		StartingPrice decimal.Decimal     `json:"starting_price"`
		ReservePrice  decimal.NullDecimal `json:"reserve_price"`
		Currency      string              `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.SellerID == uuid.Nil || req.Title == "" || !req.StartingPrice.IsPositive() {
		http.Error(w, `{"error": "seller_id, title and a positive starting_price are required"}`, http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}

	listing := &models.Listing{
		ID:            uuid.New(),
		SellerID:      req.SellerID,
		Title:         req.Title,
		Status:        models.ListingApproved,
		StartingPrice: req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		Currency:      req.Currency,
		CreatedAt:     time.Now(),
	}
	if err := h.Listings.CreateListing(r.Context(), listing); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// CreateAuction opens an auction for an approved listing
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ListingID    uuid.UUID  `json:"listing_id"`
		StartTime    *time.Time `json:"start_time"`
		DurationDays int        `json:"duration_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	start := time.Now()
	if req.StartTime != nil {
		start = *req.StartTime
	}

	auction, err := h.Lifecycle.CreateAuction(r.Context(), req.ListingID, start, req.DurationDays)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

// EndAuction terminates a live auction
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
		return
	}
	auction, err := h.Lifecycle.EndAuction(r.Context(), auctionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

// ListAlerts returns fraud alerts for reviewers
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AlertFilter{Status: models.AlertStatus(q.Get("status")), Limit: 100}
	for key, dst := range map[string]*uuid.NullUUID{"user_id": &filter.UserID, "auction_id": &filter.AuctionID} {
		if v := q.Get(key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+key)
				return
			}
			*dst = uuid.NullUUID{UUID: id, Valid: true}
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error": "Invalid limit"}`, http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	alerts, err := h.Fraud.ListAlerts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.FraudAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// ReviewAlert closes an open fraud alert
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	alertID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error": "Invalid alert ID"}`, http.StatusBadRequest)
		return
	}
	var req struct {
		Status models.AlertStatus `json:"status"`
		Notes  *string            `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	alert, err := h.Fraud.ReviewAlert(r.Context(), alertID, claims.UserID, req.Status, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// WebSocket subscribes to an auction's events; a token adds outbid notices
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var auctionID, userID uuid.NullUUID
	if v := q.Get("auction_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error": "Invalid auction ID"}`, http.StatusBadRequest)
			return
		}
		auctionID = uuid.NullUUID{UUID: id, Valid: true}
	}
	if token := q.Get("token"); token != "" {
		claims, err := h.AuthService.ParseToken(token)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		userID = uuid.NullUUID{UUID: claims.UserID, Valid: true}
	}
	if !auctionID.Valid && !userID.Valid {
		http.Error(w, `{"error": "auction_id or token required"}`, http.StatusBadRequest)
		return
	}
	h.Hub.Serve(w, r, auctionID, userID)
}
