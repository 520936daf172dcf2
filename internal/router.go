package internal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"roomchat/internal/storage"
)

// handleEnvelope is the per-connection dispatch point. The envelope is decoded
// once to pick the type; each branch decodes its own request struct. Unknown
// or malformed envelopes are rejected with a bad_envelope error and cause no
// state change.
func (s *Server) handleEnvelope(c *Client, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		s.sendError(c, errBadEnvelope)
		return
	}

	if c.Authenticated() {
		s.presence.Touch(c.Identity())
	}

	switch env.Type {
	case typeRegister:
		s.handleRegister(c, raw)
	case typeLogin:
		s.handleLogin(c, raw)
	case typeCreateRoom:
		s.authenticated(c, func() { s.handleCreateRoom(c, raw) })
	case typeGetRooms:
		s.authenticated(c, func() { s.handleGetRooms(c) })
	case typeGetUsers:
		s.authenticated(c, func() { s.handleGetUsers(c) })
	case typeJoinRoom:
		s.authenticated(c, func() { s.handleJoinRoom(c, raw) })
	case typeText:
		s.authenticated(c, func() { s.handleText(c, raw) })
	case typeFileStart:
		s.authenticated(c, func() { s.handleFileStart(c, raw) })
	case typeFileChunk:
		s.authenticated(c, func() { s.handleFileChunk(c, raw) })
	case typeTyping, typeStopTyping:
		s.authenticated(c, func() { s.handleTyping(c, env.Type) })
	case typeIdle:
		s.authenticated(c, func() { s.handleIdle(c) })
	case typeUserStatus:
		s.authenticated(c, func() { s.handleUserStatus(c, raw) })
	default:
		s.sendError(c, errBadEnvelope)
	}
}

// authenticated runs fn only for logged-in sessions; everything else is
// rejected, not queued.
func (s *Server) authenticated(c *Client, fn func()) {
	if !c.Authenticated() {
		s.sendError(c, errNotLoggedIn)
		return
	}
	fn()
}

func (s *Server) handleRegister(c *Client, raw []byte) {
	if !s.authLimiter.Allow(c.addr) {
		s.sendError(c, errTooManyAttempts)
		return
	}
	var req credentialsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		s.sendError(c, errBadEnvelope)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.internalError(c, "hash password", err)
		return
	}
	if _, err := s.store.CreateUser(context.Background(), username, hash); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			s.sendError(c, errUsernameTaken)
			return
		}
		s.internalError(c, "create user", err)
		return
	}
	s.metrics.IncSignup()
	s.sendStatus(c, "Registered successfully")
}

func (s *Server) handleLogin(c *Client, raw []byte) {
	if !s.authLimiter.Allow(c.addr) {
		s.sendError(c, errTooManyAttempts)
		return
	}
	var req credentialsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		s.sendError(c, errBadEnvelope)
		return
	}
	user, err := s.store.GetUserByUsername(context.Background(), username)
	if err != nil {
		s.internalError(c, "fetch user", err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		s.sendError(c, errInvalidCredentials)
		return
	}

	// A second login on the same connection re-binds it; the old identity is
	// released exactly as if it had logged in somewhere else.
	if previous := c.bindIdentity(username); previous != "" && previous != username {
		if s.registry.Remove(previous, c) {
			s.uploads.DropOwner(previous)
			s.presence.Remove(previous)
			s.broadcastUserStatus(previous, statusOffline, c)
		}
	}
	if superseded := s.registry.Register(username, c); superseded != nil {
		// last login wins: push the earlier connection out
		superseded.closeSend()
	}
	s.presence.MarkActive(username)
	s.metrics.IncLogin()
	s.sendStatus(c, "Logged in successfully")
	s.broadcastUserStatus(username, statusOnline, c)
	s.replayHistory(c, c.Room())
}

func (s *Server) handleCreateRoom(c *Client, raw []byte) {
	var req createRoomRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	name := strings.TrimSpace(req.RoomName)
	if name == "" || req.IsPublic == nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	isPublic := *req.IsPublic
	if !isPublic && req.Password == "" {
		s.sendError(c, protoErr(KindBadEnvelope, "private rooms require a password"))
		return
	}
	var hash []byte
	if req.Password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.internalError(c, "hash room password", err)
			return
		}
	}
	if _, err := s.store.CreateRoom(context.Background(), name, isPublic, hash, req.KeyMaterial); err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			s.sendError(c, errRoomNameTaken)
			return
		}
		s.internalError(c, "create room", err)
		return
	}
	s.sendStatus(c, "Room created: "+name)
	// keep every room picker live-updated
	s.broadcastAll(mustMarshal(newRoomEnvelope{
		Type: typeNewRoom,
		Room: roomEntry{Name: name, IsPublic: isPublic},
	}), nil)
}

func (s *Server) handleGetRooms(c *Client) {
	infos, err := s.store.ListRooms(context.Background())
	if err != nil {
		s.internalError(c, "list rooms", err)
		return
	}
	rooms := make([]roomEntry, 0, len(infos))
	for _, info := range infos {
		rooms = append(rooms, roomEntry{Name: info.Name, IsPublic: info.IsPublic})
	}
	c.trySend(mustMarshal(roomListEnvelope{Type: typeRoomList, Rooms: rooms}))
}

func (s *Server) handleGetUsers(c *Client) {
	users, err := s.store.ListUsernames(context.Background())
	if err != nil {
		s.internalError(c, "list users", err)
		return
	}
	if users == nil {
		users = []string{}
	}
	c.trySend(mustMarshal(userListEnvelope{Type: typeUserList, Users: users}))
}

func (s *Server) handleJoinRoom(c *Client, raw []byte) {
	var req joinRoomRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	name := strings.TrimSpace(req.Room)
	if name == "" {
		s.sendError(c, errBadEnvelope)
		return
	}
	room, err := s.store.GetRoom(context.Background(), name)
	if err != nil {
		s.internalError(c, "fetch room", err)
		return
	}
	if room == nil {
		s.sendError(c, errRoomNotFound)
		return
	}
	if !room.IsPublic {
		if bcrypt.CompareHashAndPassword(room.PasswordHash, []byte(req.Password)) != nil {
			s.sendError(c, errIncorrectPassword)
			return
		}
	}
	c.setRoom(room.Name)
	// key material is opaque to the engine and rides along on the confirmation
	c.trySend(mustMarshal(statusEnvelope{
		Type:        typeStatus,
		Message:     "Joined room: " + room.Name,
		Room:        room.Name,
		KeyMaterial: room.KeyMaterial,
	}))
	s.replayHistory(c, room.Name)
}

func (s *Server) handleText(c *Client, raw []byte) {
	identity := c.Identity()
	if !s.textLimiter.Allow(identity) {
		s.sendError(c, errRateLimitExceeded)
		return
	}
	var req textRequest
	if err := json.Unmarshal(raw, &req); err != nil || len(req.Content) == 0 {
		s.sendError(c, errBadEnvelope)
		return
	}
	room := c.Room()
	ts := time.Now().UnixMilli()
	// persist first so replay to future joiners matches what was fanned out;
	// both steps run under broadcastMu so accept order and store order agree
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if err := s.store.AppendMessage(context.Background(), room, identity, string(req.Content), ts); err != nil {
		s.internalError(c, "persist message", err)
		return
	}
	s.metrics.IncMessage()
	// sender included: every client renders from the same broadcast
	s.deliverRoom(room, mustMarshal(textEnvelope{
		Type:    typeText,
		Room:    room,
		Sender:  identity,
		Content: req.Content,
		Ts:      ts,
	}), nil)
}

func (s *Server) handleFileStart(c *Client, raw []byte) {
	var req fileStartRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	if perr := s.uploads.Start(req.UploadID, c.Identity(), c.Room(), req.FileName, req.FileSize, req.TotalChunks, req.CryptoMeta); perr != nil {
		s.sendError(c, perr)
		return
	}
	s.sendStatus(c, "Upload started: "+req.FileName)
}

func (s *Server) handleFileChunk(c *Client, raw []byte) {
	var req fileChunkRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ChunkIndex == nil || req.Data == "" {
		s.sendError(c, errBadEnvelope)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	done, perr := s.uploads.AddChunk(req.UploadID, *req.ChunkIndex, data)
	if perr != nil {
		s.sendError(c, perr)
		return
	}
	if done != nil {
		s.finishUpload(c, done)
	}
}

// finishUpload runs the completion path: durable blob, durable record, then
// the room broadcast.
func (s *Server) finishUpload(c *Client, done *CompletedUpload) {
	url, err := s.blobs.Save(done.ID, done.FileName, done.Data)
	if err != nil {
		s.internalError(c, "store blob", err)
		return
	}
	ts := time.Now().UnixMilli()
	rec := storage.FileRecord{
		Room:       done.Room,
		Sender:     done.Owner,
		FileURL:    url,
		FileName:   done.FileName,
		Ts:         ts,
		CryptoMeta: string(done.CryptoMeta),
	}
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	if err := s.store.AppendFile(context.Background(), rec); err != nil {
		s.internalError(c, "persist file record", err)
		return
	}
	s.metrics.IncFile()
	s.deliverRoom(done.Room, mustMarshal(fileEnvelope{
		Type:       typeFile,
		Room:       done.Room,
		Sender:     done.Owner,
		FileURL:    url,
		FileName:   done.FileName,
		Ts:         ts,
		CryptoMeta: done.CryptoMeta,
	}), nil)
}

// handleTyping relays the ephemeral signal to the rest of the room. Nothing is
// persisted and the sender is excluded.
func (s *Server) handleTyping(c *Client, signal string) {
	s.broadcastRoom(c.Room(), mustMarshal(typingEnvelope{
		Type: signal,
		Room: c.Room(),
		User: c.Identity(),
	}), c)
}

func (s *Server) handleIdle(c *Client) {
	identity := c.Identity()
	s.presence.MarkIdle(identity)
	s.broadcastUserStatus(identity, statusOffline, c)
}

func (s *Server) handleUserStatus(c *Client, raw []byte) {
	var req userStatusRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, errBadEnvelope)
		return
	}
	identity := c.Identity()
	switch req.Status {
	case "idle", statusOffline:
		s.presence.MarkIdle(identity)
		s.broadcastUserStatus(identity, statusOffline, c)
	default:
		// online is a no-op unless the identity was idle
		if s.presence.MarkActive(identity) {
			s.broadcastUserStatus(identity, statusOnline, c)
		}
	}
}

// replayHistory pushes a room's persisted messages and files, ascending by
// timestamp, to one connection only.
func (s *Server) replayHistory(c *Client, room string) {
	entries, err := s.store.RoomHistory(context.Background(), room)
	if err != nil {
		s.internalError(c, "load history", err)
		return
	}
	for _, entry := range entries {
		if entry.Message != nil {
			m := entry.Message
			c.trySend(mustMarshal(textEnvelope{
				Type:    typeText,
				Room:    m.Room,
				Sender:  m.Sender,
				Content: json.RawMessage(m.Content),
				Ts:      m.Ts,
			}))
			continue
		}
		f := entry.File
		var meta json.RawMessage
		if f.CryptoMeta != "" {
			meta = json.RawMessage(f.CryptoMeta)
		}
		c.trySend(mustMarshal(fileEnvelope{
			Type:       typeFile,
			Room:       f.Room,
			Sender:     f.Sender,
			FileURL:    f.FileURL,
			FileName:   f.FileName,
			Ts:         f.Ts,
			CryptoMeta: meta,
		}))
	}
}

func (s *Server) sendStatus(c *Client, message string) {
	c.trySend(statusPayload(message))
}

func (s *Server) sendError(c *Client, perr *ProtocolError) {
	c.trySend(errorPayload(perr))
}

// internalError surfaces a storage or filesystem failure to the caller without
// taking the connection or the process down.
func (s *Server) internalError(c *Client, op string, err error) {
	log.Printf("%s: %v", op, err)
	s.sendError(c, protoErr(KindInternal, "Internal error"))
}
