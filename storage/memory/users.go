package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/storage"
)

// Directory is an in-memory storage.UserDirectory. Passwords are kept as bcrypt hashes.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]*storage.User
	byEmail map[string]string // normalized email -> user ID
	cost    int

	// dummyHash is compared against when the email is unknown so that
	// unknown and known emails take comparable time
	dummyHash []byte
}

var _ storage.UserDirectory = (*Directory)(nil)

// NewDirectory creates an empty directory using bcrypt.DefaultCost
func NewDirectory() *Directory {
	return NewDirectoryWithCost(bcrypt.DefaultCost)
}

// NewDirectoryWithCost creates an empty directory with a custom bcrypt cost.
// Costs outside bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewDirectoryWithCost(cost int) *Directory {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	return &Directory{
		byID:      make(map[string]*storage.User),
		byEmail:   make(map[string]string),
		cost:      cost,
		dummyHash: dummy,
	}
}

// AddUser registers a user. If userID is empty a random UUID is assigned.
func (d *Directory) AddUser(userID, email, password string) (*storage.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byID[userID]; exists {
		return nil, fmt.Errorf("user %q already exists", userID)
	}
	if _, exists := d.byEmail[email]; exists {
		return nil, fmt.Errorf("email %q already registered", email)
	}

	user := &storage.User{ID: userID, Email: email, PasswordHash: hash}
	d.byID[userID] = user
	d.byEmail[email] = userID

	out := *user
	return &out, nil
}

// Authenticate verifies an email/password pair
func (d *Directory) Authenticate(_ context.Context, email, password string) (*storage.User, error) {
	d.mu.RLock()
	var user *storage.User
	if id, ok := d.byEmail[normalizeEmail(email)]; ok {
		user = d.byID[id]
	}
	d.mu.RUnlock()

	if user == nil {
		_ = bcrypt.CompareHashAndPassword(d.dummyHash, []byte(password))
		return nil, storage.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, storage.ErrInvalidCredentials
	}

	out := *user
	return &out, nil
}

// GetUser returns a user by ID
func (d *Directory) GetUser(_ context.Context, userID string) (*storage.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.byID[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *user
	return &out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
