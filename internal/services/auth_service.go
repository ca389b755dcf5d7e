package services

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lessonhub/collab/internal/models"
)

// ErrUnauthorized is returned for any token that does not resolve to a user.
var ErrUnauthorized = errors.New("unauthorized")

type SessionLookup interface {
	FindByToken(ctx context.Context, token string) (*models.StoredSession, error)
}

type UserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// AuthService resolves opaque bearer tokens to user identities. Token
// lookups are cached in Redis so the hot websocket handshake path does not
// hit the session store on every connect; cache failures fall through to the
// store and never change the outcome.
type AuthService struct {
	log      *zap.Logger
	rdb      *redis.Client
	sessions SessionLookup
	users    UserLookup
	cacheTTL time.Duration
}

func NewAuthService(log *zap.Logger, rdb *redis.Client, sessions SessionLookup, users UserLookup) *AuthService {
	return &AuthService{
		log:      log,
		rdb:      rdb,
		sessions: sessions,
		users:    users,
		cacheTTL: 5 * time.Minute,
	}
}

// Authenticate resolves token -> session -> user. The display name falls back
// to the user's email, then to "Unknown".
func (a *AuthService) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrUnauthorized
	}

	userID := a.cachedUserID(ctx, token)
	if userID == "" {
		sess, err := a.sessions.FindByToken(ctx, token)
		if err != nil {
			a.log.Error("session lookup failed", zap.Error(err))
			return models.Identity{}, ErrUnauthorized
		}
		if sess == nil {
			return models.Identity{}, ErrUnauthorized
		}
		userID = sess.UserID
		a.cacheUserID(ctx, token, userID)
	}

	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		a.log.Error("user lookup failed", zap.String("userId", userID), zap.Error(err))
		return models.Identity{}, ErrUnauthorized
	}
	if user == nil {
		return models.Identity{}, ErrUnauthorized
	}

	name := user.Name
	if name == "" {
		name = user.Email
	}
	if name == "" {
		name = "Unknown"
	}
	return models.Identity{UserID: userID, DisplayName: name}, nil
}

func tokenKey(token string) string { return "collab:token:" + token }

func (a *AuthService) cachedUserID(ctx context.Context, token string) string {
	if a.rdb == nil {
		return ""
	}
	val, err := a.rdb.Get(ctx, tokenKey(token)).Result()
	if err != nil {
		return ""
	}
	return val
}

func (a *AuthService) cacheUserID(ctx context.Context, token, userID string) {
	if a.rdb == nil {
		return
	}
	if err := a.rdb.Set(ctx, tokenKey(token), userID, a.cacheTTL).Err(); err != nil {
		a.log.Warn("token cache write failed", zap.Error(err))
	}
}
