package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8
)

// Store is an in-memory implementation of storage.CodeStore and storage.TokenStore.
type Store struct {
	mu sync.RWMutex

	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.CodeStore  = (*Store)(nil)
	_ storage.TokenStore = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		codes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst == nil {
		return nil
	}

	return inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.codesCount.Load() },
		func() int64 { return s.accessTokensCount.Load() },
		func() int64 { return s.refreshTokensCount.Load() },
	)
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// Authorization codes
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "save_authorization_code", err, start) }(time.Now())

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	stored := *code
	stored.Scopes = slices.Clone(code.Scopes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; !exists {
		s.codesCount.Add(1)
	}
	s.codes[code.Code] = &stored
	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes an authorization code.
// Only one concurrent caller can observe a given code.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "consume_authorization_code", err, start) }(time.Now())

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}

	delete(s.codes, code)
	s.codesCount.Add(-1)

	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrExpired)
	}

	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return authCode, nil
}

// ============================================================
// Access tokens
// ============================================================

// SaveAccessToken records an issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "save_access_token", err, start) }(time.Now())

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	stored := *token
	stored.Scopes = slices.Clone(token.Scopes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.Token]; !exists {
		s.accessTokensCount.Add(1)
	}
	s.accessTokens[token.Token] = &stored
	return nil
}

// GetAccessToken returns a copy of an access token record
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "get_access_token", err, start) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if security.IsTokenExpired(record.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrExpired)
	}

	out := *record
	out.Scopes = slices.Clone(record.Scopes)
	return &out, nil
}

// DeleteAccessToken removes an access token record
func (s *Store) DeleteAccessToken(ctx context.Context, token string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_access_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "delete_access_token", err, start) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[token]; ok {
		delete(s.accessTokens, token)
		s.accessTokensCount.Add(-1)
		s.logger.Debug("Deleted access token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	}
	return nil
}

// ============================================================
// Refresh tokens
// ============================================================

// SaveRefreshToken records an issued refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "save_refresh_token", err, start) }(time.Now())

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	stored := *token
	stored.Scopes = slices.Clone(token.Scopes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; !exists {
		s.refreshTokensCount.Add(1)
	}
	s.refreshTokens[token.Token] = &stored
	return nil
}

// GetRefreshToken returns a copy of a refresh token record
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "get_refresh_token", err, start) }(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if security.IsTokenExpired(record.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrExpired)
	}

	out := *record
	out.Scopes = slices.Clone(record.Scopes)
	return &out, nil
}

// ConsumeRefreshToken atomically retrieves and deletes a refresh token
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "consume_refresh_token", err, start) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}

	delete(s.refreshTokens, token)
	s.refreshTokensCount.Add(-1)

	if security.IsTokenExpired(record.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrExpired)
	}
	return record, nil
}

// DeleteRefreshToken removes a refresh token record
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_refresh_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "delete_refresh_token", err, start) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token]; ok {
		delete(s.refreshTokens, token)
		s.refreshTokensCount.Add(-1)
		s.logger.Debug("Deleted refresh token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	}
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.codes {
		if security.IsTokenExpired(authCode.ExpiresAt) {
			delete(s.codes, code)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	for token, record := range s.accessTokens {
		if security.IsTokenExpired(record.ExpiresAt) {
			delete(s.accessTokens, token)
			s.accessTokensCount.Add(-1)
			cleaned++
		}
	}

	for token, record := range s.refreshTokens {
		if security.IsTokenExpired(record.ExpiresAt) {
			delete(s.refreshTokens, token)
			s.refreshTokensCount.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.mu.RLock()
	tracer := s.tracer
	s.mu.RUnlock()

	// The caller ends the returned span, so it must never be the parent
	if tracer == nil {
		return ctx, noop.Span{}
	}

	return tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	s.mu.RLock()
	inst := s.instrumentation
	s.mu.RUnlock()

	if inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
