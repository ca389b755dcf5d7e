package mongo

import (
	"context"
	"errors"
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lessonhub/collab/internal/models"
)

// UserRepo wraps the users collection.
type UserRepo struct{ col *mongo.Collection }

func NewUserRepo(c *Client) (*UserRepo, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	colName := os.Getenv("USERS_COLLECTION")
	if colName == "" {
		colName = "users"
	}
	return &UserRepo{col: db.Collection(colName)}, nil
}

// FindByID retrieves a user by id. An unknown user is (nil, nil).
func (r *UserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
