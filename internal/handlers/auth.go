package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tahmid-hasan/schedly/internal/model"
	"github.com/tahmid-hasan/schedly/libs/auth"
)

type registerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Phone        string `json:"phone"`
	Role         string `json:"role"`
	BusinessName string `json:"business_name"`
}

type authResponse struct {
	Token   string               `json:"token"`
	Account model.AccountSummary `json:"account"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
		http.Error(w, "name, email and a password of at least 6 characters are required", http.StatusBadRequest)
		return
	}

	role := model.RoleCustomer
	if req.Role != "" {
		parsed, ok := model.ParseRole(req.Role)
		if !ok {
			http.Error(w, "role must be customer or business", http.StatusBadRequest)
			return
		}
		role = parsed
	}
	if role == model.RoleBusiness && strings.TrimSpace(req.BusinessName) == "" {
		http.Error(w, "business_name is required for business accounts", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	acct := model.Account{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         role,
		BusinessName: strings.TrimSpace(req.BusinessName),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.accounts.CreateAccount(r.Context(), acct); err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		h.logger.Error("create account", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.issueToken(w, acct, http.StatusCreated)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	acct, err := h.accounts.FindAccountByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error("find account", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issueToken(w, acct, http.StatusOK)
}

func (h *Handler) issueToken(w http.ResponseWriter, acct model.Account, status int) {
	now := time.Now()
	token, err := auth.SignHS256(auth.Claims{
		Sub:  acct.ID,
		Name: acct.Name,
		Role: string(acct.Role),
		Iat:  now.Unix(),
		Exp:  now.Add(h.tokenTTL).Unix(),
	}, h.jwtSecret)
	if err != nil {
		h.logger.Error("sign token", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, authResponse{Token: token, Account: acct.Summary()})
}
