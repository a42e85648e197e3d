package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/server"
	"github.com/jacario/jacario/internal/types"
)

const maxRoomNameLength = 64

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *App) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("request failed: %v", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		Avatar:       u.Avatar,
		Role:         types.Role(u.Role),
		IsOnline:     u.IsOnline,
		LastSeen:     u.LastSeen,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
		IsDefault:   r.IsDefault,
		OwnerId:     int(r.OwnerId.Int64),
		CreatedAt:   r.CreatedAt,
	}
}

// currentUser loads the account behind the session of r.
func (s *App) currentUser(r *http.Request) (database.User, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return database.User{}, NewUnauthorizedError()
	}

	user, err := s.db.GetAccountById(r.Context(), userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.User{}, NewNotFoundError()
		}
		return database.User{}, NewInternalServerError(err)
	}

	return user, nil
}

func roomIdParam(r *http.Request) (int, *ApiError) {
	roomId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || roomId <= 0 {
		return 0, NewBadRequestError().withMessage("invalid room id")
	}

	return roomId, nil
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *App) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError().withMessage("username, email and password are required"))
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			s.writeError(w, NewConflictError().withMessage("username or email already taken"))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.joinDefaultRoom(r, newUser.Id)

	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

// joinDefaultRoom adds a new account to the default room. Failures are
// logged and do not fail registration.
func (s *App) joinDefaultRoom(r *http.Request, userId int) {
	if s.defaultRoom == "" {
		return
	}

	rooms, err := s.db.ListRooms(r.Context(), userId)
	if err != nil {
		s.log.Printf("list rooms for user %d: %v", userId, err)
		return
	}

	for _, room := range rooms {
		if room.Name != s.defaultRoom {
			continue
		}
		if err := s.db.AddMember(r.Context(), room.Id, userId); err != nil {
			s.log.Printf("add user %d to room %q: %v", userId, room.Name, err)
		}
		return
	}

	s.log.Printf("default room %q not found", s.defaultRoom)
}

func (s *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError().withMessage("email and password are required"))
		return
	}

	user, err := s.db.GetAccountByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(user.PasswordHash, req.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := s.createJwtForSession(user.Id, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *App) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieKey,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *App) session(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *App) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbRooms, err := s.db.ListRooms(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, toRoom(room))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	name := strings.TrimSpace(s.plainText.Sanitize(req.Name))
	if name == "" {
		s.writeError(w, NewBadRequestError().withMessage("room name is required"))
		return
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		s.writeError(w, NewBadRequestError().withMessage("room name is too long"))
		return
	}

	room, err := s.db.CreateRoom(r.Context(), database.CreateRoomParams{
		Name:        name,
		Description: strings.TrimSpace(s.plainText.Sanitize(req.Description)),
		IsPrivate:   req.IsPrivate,
		OwnerId:     userId,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			s.writeError(w, NewConflictError().withMessage("room name already taken"))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if err := s.db.AddMember(r.Context(), room.Id, userId); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, toRoom(room))
}

func (s *App) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, errResp := roomIdParam(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	room, err := s.db.GetRoom(r.Context(), roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError().withMessage("room not found"))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	member, err := s.db.IsMember(r.Context(), roomId, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !member {
		if room.IsPrivate {
			s.writeError(w, NewForbiddenError().withMessage(server.ErrAccessDenied.Error()))
			return
		}
		if err := s.db.AddMember(r.Context(), roomId, userId); err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
	}

	s.writeJson(w, http.StatusOK, toRoom(room))
}

func (s *App) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId, errResp := roomIdParam(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	room, err := s.db.GetRoom(r.Context(), roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError().withMessage("room not found"))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if room.IsDefault {
		s.writeError(w, NewBadRequestError().withMessage("cannot leave a default room"))
		return
	}

	if err := s.db.RemoveMember(r.Context(), roomId, userId); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.cs.EvictUser(roomId, userId)

	w.WriteHeader(http.StatusNoContent)
}

func (s *App) roomMessages(w http.ResponseWriter, r *http.Request) {
	roomId, errResp := roomIdParam(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msgs, err := s.cs.RoomHistory(r.Context(), toUser(user), roomId)
	if err != nil {
		s.writeError(w, chatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// non-browser clients send no origin
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(toUser(user), conn, s.cs, s.log)
	if err := s.cs.Connect(r.Context(), client); err != nil {
		s.log.Printf("connect user %d: %v", user.Id, err)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
