package storage

import (
	"context"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", "Alice@School.Edu", []byte("hash"), 9)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", "other@school.edu", []byte("hash2"), 9); err == nil {
		t.Fatalf("expected duplicate username error")
	}
	if _, err := store.CreateUser(ctx, "alice2", "alice@school.edu", []byte("hash2"), 9); err == nil {
		t.Fatalf("expected duplicate email error")
	}

	user, err := store.GetUserByEmail(ctx, "ALICE@school.edu")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if user == nil || user.Username != "alice" || user.Grade != 9 {
		t.Fatalf("unexpected user: %+v", user)
	}

	exists, err := store.UserExists(ctx, id)
	if err != nil || !exists {
		t.Fatalf("UserExists(%d) = %v, %v", id, exists, err)
	}
	exists, err = store.UserExists(ctx, 9999)
	if err != nil || exists {
		t.Fatalf("UserExists(9999) = %v, %v", exists, err)
	}
}

func TestSetPresence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, _ := store.CreateUser(ctx, "bob", "bob@school.edu", []byte("hash"), 8)

	stamp := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	if err := store.SetPresence(ctx, id, true, stamp); err != nil {
		t.Fatalf("SetPresence online: %v", err)
	}
	user, _ := store.GetUserByID(ctx, id)
	if !user.IsOnline {
		t.Fatalf("expected user online")
	}
	if !user.LastActive.Equal(stamp) {
		t.Fatalf("lastActive = %v, want %v", user.LastActive, stamp)
	}

	if err := store.SetPresence(ctx, id, false, stamp.Add(time.Hour)); err != nil {
		t.Fatalf("SetPresence offline: %v", err)
	}
	user, _ = store.GetUserByID(ctx, id)
	if user.IsOnline {
		t.Fatalf("expected user offline")
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", "bob@school.edu", []byte("hash"), 8)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	if err := store.CreateAuthSession(ctx, userID, "token123", exp); err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	session, err := store.GetAuthSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if session == nil || session.UserID != userID {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := store.DeleteAuthSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	session, err = store.GetAuthSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetAuthSession after delete: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session after delete")
	}
}

func TestLoginLockout(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id, _ := store.CreateUser(ctx, "carol", "carol@school.edu", []byte("hash"), 10)

	for i := 0; i < 4; i++ {
		attempts, err := store.RecordFailedLogin(ctx, id, 5, 30*time.Minute)
		if err != nil {
			t.Fatalf("RecordFailedLogin %d: %v", i, err)
		}
		if attempts != i+1 {
			t.Fatalf("attempts = %d, want %d", attempts, i+1)
		}
	}
	user, _ := store.GetUserByID(ctx, id)
	if user.LockedUntil.Valid {
		t.Fatalf("account must not be locked yet")
	}

	if _, err := store.RecordFailedLogin(ctx, id, 5, 30*time.Minute); err != nil {
		t.Fatalf("RecordFailedLogin: %v", err)
	}
	user, _ = store.GetUserByID(ctx, id)
	if !user.LockedUntil.Valid || !user.LockedUntil.Time.After(time.Now().UTC()) {
		t.Fatalf("account should be locked, got %+v", user.LockedUntil)
	}

	if err := store.ResetLoginFailures(ctx, id); err != nil {
		t.Fatalf("ResetLoginFailures: %v", err)
	}
	user, _ = store.GetUserByID(ctx, id)
	if user.FailedLoginAttempts != 0 || user.LockedUntil.Valid {
		t.Fatalf("lock should be cleared: %+v", user)
	}
}

func TestFriendships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, err := store.CreateUser(ctx, "alice", "alice@school.edu", []byte("hash1"), 9)
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bobID, err := store.CreateUser(ctx, "bob", "bob@school.edu", []byte("hash2"), 9)
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	if err := store.AddFriendship(ctx, aliceID, bobID); err != nil {
		t.Fatalf("AddFriendship: %v", err)
	}
	if err := store.AddFriendship(ctx, aliceID, bobID); err != nil {
		t.Fatalf("AddFriendship idempotent: %v", err)
	}
	friends, err := store.ListFriends(ctx, aliceID)
	if err != nil {
		t.Fatalf("ListFriends: %v", err)
	}
	if len(friends) != 1 || friends[0].Username != "bob" {
		t.Fatalf("unexpected friends: %+v", friends)
	}
}

func TestFriendRequests(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", "alice@school.edu", []byte("hash1"), 9)
	bobID, _ := store.CreateUser(ctx, "bob", "bob@school.edu", []byte("hash2"), 9)
	if err := store.CreateFriendRequest(ctx, aliceID, bobID); err != nil {
		t.Fatalf("CreateFriendRequest: %v", err)
	}
	if err := store.CreateFriendRequest(ctx, aliceID, bobID); err == nil {
		t.Fatalf("expected duplicate friend request error")
	}
	incoming, err := store.ListIncomingFriendRequests(ctx, bobID)
	if err != nil {
		t.Fatalf("ListIncomingFriendRequests: %v", err)
	}
	if len(incoming) != 1 || incoming[0].Username != "alice" {
		t.Fatalf("unexpected incoming: %+v", incoming)
	}
	if err := store.AcceptFriendRequest(ctx, aliceID, bobID); err != nil {
		t.Fatalf("AcceptFriendRequest: %v", err)
	}
	friends, err := store.ListFriends(ctx, bobID)
	if err != nil || len(friends) != 1 || friends[0].Username != "alice" {
		t.Fatalf("expected alice as friend: %+v, err=%v", friends, err)
	}
}

func TestUpdateProfileAndPassword(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, _ := store.CreateUser(ctx, "alice", "alice@school.edu", []byte("hash1"), 9)

	if err := store.UpdateProfile(ctx, aliceID, 10, "avatar-1.png"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if err := store.UpdatePassword(ctx, aliceID, []byte("hash2")); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	user, _ := store.GetUserByID(ctx, aliceID)
	if user.Grade != 10 || user.Avatar != "avatar-1.png" {
		t.Fatalf("profile not updated: %+v", user)
	}
	if string(user.PasswordHash) != "hash2" {
		t.Fatalf("expected updated hash, got %s", string(user.PasswordHash))
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
