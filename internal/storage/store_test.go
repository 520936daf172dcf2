package storage

import (
	"context"
	"errors"
	"testing"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user, _ := store.GetUserByUsername(ctx, "nobody"); user != nil {
		t.Fatalf("expected nil for unknown user, got %+v", user)
	}

	names, err := store.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("ListUsernames: %v", err)
	}
	if len(names) != 1 || names[0] != "alice" {
		t.Fatalf("unexpected usernames: %v", names)
	}
}

func TestGeneralRoomSeeded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	room, err := store.GetRoom(ctx, GeneralRoom)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room == nil || !room.IsPublic {
		t.Fatalf("expected seeded public general room, got %+v", room)
	}

	// migrating again must not fail or duplicate the seed
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	infos, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected exactly one room, got %v", infos)
	}
}

func TestRoomLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateRoom(ctx, "vault", false, []byte("digest"), "keyblob"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := store.CreateRoom(ctx, "vault", true, nil, ""); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}

	room, err := store.GetRoom(ctx, "vault")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room == nil || room.IsPublic {
		t.Fatalf("unexpected room: %+v", room)
	}
	if string(room.PasswordHash) != "digest" || room.KeyMaterial != "keyblob" {
		t.Fatalf("digest/key material not round-tripped: %+v", room)
	}

	infos, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected general + vault, got %v", infos)
	}
	for _, info := range infos {
		if info.Name == "vault" && info.IsPublic {
			t.Fatalf("vault should be private in listing: %+v", info)
		}
	}
}

func TestRoomHistoryOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendMessage(ctx, GeneralRoom, "alice", `"second"`, 200); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.AppendMessage(ctx, GeneralRoom, "bob", `"fourth"`, 400); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.AppendFile(ctx, FileRecord{
		Room: GeneralRoom, Sender: "alice", FileURL: "/files/x", FileName: "x", Ts: 100,
	}); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	if err := store.AppendMessage(ctx, "elsewhere", "carol", `"other room"`, 50); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	entries, err := store.RoomHistory(ctx, GeneralRoom)
	if err != nil {
		t.Fatalf("RoomHistory: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].File == nil || entries[0].File.Ts != 100 {
		t.Fatalf("expected file first, got %+v", entries[0])
	}
	if entries[1].Message == nil || entries[1].Message.Content != `"second"` {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if entries[2].Message == nil || entries[2].Message.Sender != "bob" {
		t.Fatalf("unexpected third entry: %+v", entries[2])
	}
}

func TestFileRecordCryptoMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := FileRecord{
		Room: GeneralRoom, Sender: "alice", FileURL: "/files/a", FileName: "a.bin",
		Ts: 10, CryptoMeta: `{"iv":"abc","tag":"def"}`,
	}
	if err := store.AppendFile(ctx, rec); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	entries, err := store.RoomHistory(ctx, GeneralRoom)
	if err != nil {
		t.Fatalf("RoomHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].File == nil {
		t.Fatalf("expected one file entry, got %+v", entries)
	}
	if entries[0].File.CryptoMeta != rec.CryptoMeta {
		t.Fatalf("crypto meta not carried through: %q", entries[0].File.CryptoMeta)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
