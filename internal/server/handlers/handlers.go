// Package handlers is the development backend's REST surface plus the
// websocket upgrade endpoint. Failure responses always carry a JSON body of
// the form {"message": "..."} so clients can surface the backend's text.
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisp-chat/wisp/internal/server/models"
	"github.com/wisp-chat/wisp/internal/server/ratelimit"
	"github.com/wisp-chat/wisp/internal/server/storage"
	"github.com/wisp-chat/wisp/internal/server/ws"
)

type contextKey string

const userIDKey contextKey = "user_id"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handlers struct {
	store     *storage.Store
	hub       *ws.Hub
	limiter   *ratelimit.Limiter
	jwtSecret []byte

	mfaMu    sync.Mutex
	mfaCodes map[string]string // email -> pending code
}

func New(store *storage.Store, hub *ws.Hub, limiter *ratelimit.Limiter, jwtSecret string) *Handlers {
	return &Handlers{
		store:     store,
		hub:       hub,
		limiter:   limiter,
		jwtSecret: []byte(jwtSecret),
		mfaCodes:  make(map[string]string),
	}
}

// Routes builds the full mux.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /ws", h.HandleWebSocket)

	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/verify-mfa", h.VerifyMFA)
	mux.HandleFunc("POST /api/auth/logout", h.withAuth(h.Logout))
	mux.HandleFunc("GET /api/auth/check", h.withAuth(h.Check))
	mux.HandleFunc("PUT /api/auth/update-profile", h.withAuth(h.UpdateProfile))
	mux.HandleFunc("POST /api/auth/forgot-password", h.ForgotPassword)
	mux.HandleFunc("POST /api/auth/verify-reset-code", h.VerifyResetCode)
	mux.HandleFunc("POST /api/auth/reset-password", h.ResetPassword)

	mux.HandleFunc("GET /api/messages/users", h.withAuth(h.Correspondents))
	mux.HandleFunc("GET /api/messages/users/blocked", h.withAuth(h.BlockedUsers))
	mux.HandleFunc("POST /api/messages/users/block/{id}", h.withAuth(h.Block))
	mux.HandleFunc("POST /api/messages/users/unblock/{id}", h.withAuth(h.Unblock))
	mux.HandleFunc("GET /api/messages/{id}", h.withAuth(h.DirectMessages))
	mux.HandleFunc("POST /api/messages/send/{id}", h.withAuth(h.SendDirect))
	mux.HandleFunc("DELETE /api/messages/delete/{id}", h.withAuth(h.DeleteConversation))
	mux.HandleFunc("POST /api/messages/mark-seen", h.withAuth(h.MarkSeen))
	mux.HandleFunc("POST /api/messages/mark-unread/{id}", h.withAuth(h.MarkUnread))

	mux.HandleFunc("GET /api/groups", h.withAuth(h.Groups))
	mux.HandleFunc("POST /api/groups/create", h.withAuth(h.CreateGroup))
	mux.HandleFunc("GET /api/groups/messages/{id}", h.withAuth(h.GroupMessages))
	mux.HandleFunc("POST /api/groups/messages/{id}", h.withAuth(h.SendGroup))
	mux.HandleFunc("PUT /api/groups/update-group-name/{id}", h.withAuth(h.RenameGroup))
	mux.HandleFunc("PUT /api/groups/update-group-profile/{id}", h.withAuth(h.UpdateGroupAvatar))
	mux.HandleFunc("POST /api/groups/add-user/{id}", h.withAuth(h.AddGroupMember))
	mux.HandleFunc("POST /api/groups/leave/{id}", h.withAuth(h.LeaveGroup))

	mux.HandleFunc("POST /api/tips/intent", h.withAuth(h.CreateTipIntent))
	mux.HandleFunc("POST /api/tips", h.withAuth(h.SaveTip))

	return mux
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handlers) issueToken(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(7 * 24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func (h *Handlers) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw string
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			raw = cookie.Value
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return h.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		userID, ok := claims["user_id"].(string)
		if !ok || userID == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- auth ---

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "display name, email and a password of at least 8 characters are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not process password")
		return
	}

	user, err := h.store.CreateUser(req.DisplayName, req.Email, string(hash))
	if err != nil {
		writeError(w, http.StatusBadRequest, "email is already registered")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.CanAuth(ratelimit.GetClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, please wait a minute")
		return
	}

	var req models.LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.store.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if user.MFAEnabled {
		code := fmt.Sprintf("%06d", rand.Intn(1000000))
		h.mfaMu.Lock()
		h.mfaCodes[user.Email] = code
		h.mfaMu.Unlock()
		// A real deployment emails this; the dev backend logs it.
		log.Printf("MFA code for %s: %s", user.Email, code)
		writeJSON(w, http.StatusOK, map[string]bool{"mfa_required": true})
		return
	}

	h.finishLogin(w, user)
}

func (h *Handlers) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.mfaMu.Lock()
	code, ok := h.mfaCodes[req.Email]
	if ok && code == req.Code {
		delete(h.mfaCodes, req.Email)
	}
	h.mfaMu.Unlock()
	if !ok || code != req.Code {
		writeError(w, http.StatusUnauthorized, "invalid verification code")
		return
	}

	user, err := h.store.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	h.finishLogin(w, user)
}

func (h *Handlers) finishLogin(w http.ResponseWriter, user *models.User) {
	token, err := h.issueToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
	})
	user.PasswordHash = ""
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user, "token": token})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByID(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session is no longer valid")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.store.UpdateProfile(requestUserID(r), req.DisplayName, req.AvatarURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.store.GetUserByEmail(req.Email); err != nil {
		// Do not reveal whether the email exists.
		writeJSON(w, http.StatusOK, nil)
		return
	}

	code := fmt.Sprintf("%06d", rand.Intn(1000000))
	if err := h.store.SaveResetCode(req.Email, code); err != nil {
		writeError(w, http.StatusInternalServerError, "could not create reset code")
		return
	}
	log.Printf("password reset code for %s: %s", req.Email, code)
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) VerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"reset_code"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := h.store.CheckResetCode(req.Email, req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not verify reset code")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or expired reset code")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	ok, err := h.store.HasResetCode(req.Email)
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "no valid reset code for this email")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not process password")
		return
	}
	if err := h.store.SetPassword(req.Email, string(hash)); err != nil {
		writeError(w, http.StatusInternalServerError, "could not reset password")
		return
	}
	h.store.ClearResetCode(req.Email)
	writeJSON(w, http.StatusOK, nil)
}

// --- messaging ---

func (h *Handlers) Correspondents(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.Correspondents(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handlers) BlockedUsers(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.store.BlockedUsers(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load blocked users")
		return
	}
	if blocked == nil {
		blocked = []models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blocked_users": blocked})
}

func (h *Handlers) Block(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Block(requestUserID(r), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "could not block user")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) Unblock(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.Unblock(requestUserID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unblocked_user": user})
}

func (h *Handlers) DirectMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.DirectMessages(requestUserID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) SendDirect(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := decode(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg.SenderID = requestUserID(r)
	msg.RecipientID = r.PathValue("id")
	msg.GroupID = ""
	if msg.Text == "" && msg.ImageURL == "" && msg.AudioURL == "" && msg.DocumentURL == "" {
		writeError(w, http.StatusBadRequest, "message has no content")
		return
	}

	saved, err := h.store.SaveDirectMessage(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not send message")
		return
	}

	h.hub.NotifyNewMessage(saved, []string{saved.RecipientID})
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConversation(requestUserID(r), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req models.MarkSeenRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.MarkSeen(requestUserID(r), req.SenderID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not mark messages as seen")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) MarkUnread(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkUnread(requestUserID(r), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "could not mark conversation unread")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- groups ---

func (h *Handlers) Groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.UserGroups(requestUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load groups")
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || len(req.MemberIDs) < 2 {
		writeError(w, http.StatusBadRequest, "group name and at least 2 members are required")
		return
	}

	group, err := h.store.CreateGroup(requestUserID(r), req.Name, req.MemberIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group": group})
}

func (h *Handlers) requireMember(w http.ResponseWriter, r *http.Request) (groupID string, ok bool) {
	groupID = r.PathValue("id")
	member, err := h.store.IsGroupMember(groupID, requestUserID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not check group membership")
		return "", false
	}
	if !member {
		writeError(w, http.StatusForbidden, "not a member of this group")
		return "", false
	}
	return groupID, true
}

func (h *Handlers) GroupMessages(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	msgs, err := h.store.GroupMessages(groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load group messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (h *Handlers) SendGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.requireMember(w, r)
	if !ok {
		return
	}

	var msg models.Message
	if err := decode(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg.SenderID = requestUserID(r)
	msg.GroupID = groupID
	msg.RecipientID = ""
	if msg.Text == "" && msg.ImageURL == "" && msg.AudioURL == "" && msg.DocumentURL == "" {
		writeError(w, http.StatusBadRequest, "message has no content")
		return
	}

	saved, err := h.store.SaveGroupMessage(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not send message")
		return
	}

	memberIDs, err := h.store.GroupMemberIDs(groupID)
	if err == nil {
		h.hub.NotifyNewMessage(saved, memberIDs)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": saved})
}

func (h *Handlers) RenameGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}
	if err := h.store.RenameGroup(groupID, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "could not rename group")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *Handlers) UpdateGroupAvatar(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	var req struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	group, err := h.store.UpdateGroupAvatar(groupID, req.AvatarURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update group profile")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handlers) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	user, err := h.store.AddGroupMember(groupID, req.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not add user to group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *Handlers) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.requireMember(w, r)
	if !ok {
		return
	}
	if err := h.store.LeaveGroup(groupID, requestUserID(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "could not leave group")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- tips ---

// CreateTipIntent issues the payment intent id the client confirms with the
// provider. The id originates here, never client-side.
func (h *Handlers) CreateTipIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string  `json:"receiver_id"`
		Amount     float64 `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReceiverID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "receiver_id and a positive amount are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"intent_id": uuid.NewString()})
}

func (h *Handlers) SaveTip(w http.ResponseWriter, r *http.Request) {
	var tip models.Tip
	if err := decode(r, &tip); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if tip.TransactionID == "" || tip.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "transaction_id and a positive amount are required")
		return
	}
	tip.TipperID = requestUserID(r)

	if err := h.store.SaveTip(tip); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save tip")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// --- presence channel ---

func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := ratelimit.GetClientIP(r)
	if !h.limiter.CanConnect(clientIP) {
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		log.Printf("Rate limited connection from %s", clientIP)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if _, err := h.store.GetUserByID(userID); err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	h.limiter.AddConnection(clientIP)

	client := &ws.Client{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: userID,
		IP:     clientIP,
	}
	h.hub.Register <- client

	go func() {
		defer h.limiter.RemoveConnection(clientIP)
		client.WritePump()
	}()
	go client.ReadPump()
}
