package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/go-chi/chi/v5"
)

type AuctionsHandler struct {
	Engine *auction.Engine
}

type BidReq struct {
	Amount int64 `json:"amount"`
}

type BidResp struct {
	BidID        string            `json:"bidId"`
	Status       auction.BidStatus `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	CurrentPrice int64             `json:"currentPrice"`
	MinNextBid   int64             `json:"minNextBid"`
}

type JoinResp struct {
	SessionKey string           `json:"sessionKey"`
	Snapshot   auction.Snapshot `json:"snapshot"`
}

type DeliveryResp struct {
	auction.AuctionDelivery
	Expired bool `json:"expired"`
}

func (h *AuctionsHandler) Register(r chi.Router) {
	rest := withTimeout(r)
	rest.Post("/auctions", h.schedule)
	rest.Get("/auctions/{itemId}", h.snapshot)
	rest.Post("/auctions/{itemId}/bids", h.submitBid)
	rest.Post("/auctions/{itemId}/sessions/join", h.join)
	rest.Get("/auctions/{itemId}/history", h.history)
	rest.Get("/auctions/deliveries/{deliveryId}", h.getDelivery)
	rest.Post("/auctions/deliveries/{deliveryId}", h.submitDelivery)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return false
	}
	return true
}

func (h *AuctionsHandler) schedule(w http.ResponseWriter, r *http.Request) {
	var req auction.ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.Engine.Schedule(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *AuctionsHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Engine.Snapshot(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// submitBid: 202 untuk SUCCESS maupun REJECTED karena nominal, 409 kalau lelang tidak aktif.
func (h *AuctionsHandler) submitBid(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	var req BidReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.SubmitBid(r.Context(), chi.URLParam(r, "itemId"), member, req.Amount)
	if err != nil && !errors.Is(err, auction.ErrInvalidBidAmount) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, BidResp{
		BidID:        res.Bid.ID,
		Status:       res.Bid.Status,
		Reason:       res.Bid.Reason,
		CurrentPrice: res.Item.CurrentPrice,
		MinNextBid:   res.Item.MinNextBid(),
	})
}

func (h *AuctionsHandler) join(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	snap, err := h.Engine.JoinSession(r.Context(), chi.URLParam(r, "itemId"), member)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResp{SessionKey: snap.SessionKey, Snapshot: snap})
}

func (h *AuctionsHandler) history(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.History(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AuctionsHandler) getDelivery(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	d, err := h.Engine.Delivery(r.Context(), chi.URLParam(r, "deliveryId"), member)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryResp{AuctionDelivery: d, Expired: !h.Engine.Now().Before(d.DeliveryDeadline)})
}

func (h *AuctionsHandler) submitDelivery(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	var in auction.DeliveryInput
	if !decode(w, r, &in) {
		return
	}
	d, err := h.Engine.SubmitDelivery(r.Context(), chi.URLParam(r, "deliveryId"), member, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeliveryResp{AuctionDelivery: d})
}
