package mongo

import (
	"context"
	"errors"
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lessonhub/collab/internal/models"
)

// SessionRepo wraps the session-token collection written by the auth service.
type SessionRepo struct{ col *mongo.Collection }

func NewSessionRepo(c *Client) (*SessionRepo, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	colName := os.Getenv("SESSIONS_COLLECTION")
	if colName == "" {
		colName = "sessions"
	}
	return &SessionRepo{col: db.Collection(colName)}, nil
}

// FindByToken looks up a session by its opaque bearer token. An unknown token
// is (nil, nil).
func (r *SessionRepo) FindByToken(ctx context.Context, token string) (*models.StoredSession, error) {
	var s models.StoredSession
	if err := r.col.FindOne(ctx, bson.M{"token": token}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
