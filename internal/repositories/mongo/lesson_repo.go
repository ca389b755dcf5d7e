package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lessonhub/collab/internal/models"
)

// LessonRepo wraps the lessons collection.
type LessonRepo struct{ col *mongo.Collection }

// NewLessonRepo connects to the lessons collection and ensures an index on
// the lesson id.
func NewLessonRepo(c *Client) (*LessonRepo, error) {
	db, err := c.DB()
	if err != nil {
		return nil, err
	}

	colName := os.Getenv("LESSONS_COLLECTION")
	if colName == "" {
		colName = "lessons"
	}

	col := db.Collection(colName)
	r := &LessonRepo{col: col}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"id": 1},
		Options: options.Index().SetUnique(true),
	})

	return r, nil
}

// GetByID retrieves a lesson by its id. A missing lesson is (nil, nil).
func (r *LessonRepo) GetByID(ctx context.Context, id string) (*models.Lesson, error) {
	var l models.Lesson
	if err := r.col.FindOne(ctx, bson.M{"id": id}).Decode(&l); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// Sections returns the lesson's section records in stored order.
func (r *LessonRepo) Sections(ctx context.Context, id string) ([]map[string]any, error) {
	l, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, nil
	}
	return decodeSections(l.SectionsJSON)
}

// WriteField overwrites one editable field of a lesson and bumps its
// modification timestamp. "content" targets a section by index; "title"
// targets the lesson itself. Other fields are not persisted in place and are
// ignored.
func (r *LessonRepo) WriteField(ctx context.Context, id string, sectionIndex int, field string, value any, modifiedAt time.Time) error {
	switch field {
	case "content":
		l, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if l == nil {
			return fmt.Errorf("lesson %s not found", id)
		}
		updated, err := spliceSectionContent(l.SectionsJSON, sectionIndex, value)
		if err != nil {
			return err
		}
		_, err = r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
			"sectionsJson": updated,
			"updatedAt":    modifiedAt.UTC().Format(time.RFC3339),
		}})
		return err
	case "title":
		_, err := r.col.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
			"title":     value,
			"updatedAt": modifiedAt.UTC().Format(time.RFC3339),
		}})
		return err
	default:
		return nil
	}
}

func decodeSections(sectionsJSON string) ([]map[string]any, error) {
	if sectionsJSON == "" {
		sectionsJSON = "[]"
	}
	var sections []map[string]any
	if err := json.Unmarshal([]byte(sectionsJSON), &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// spliceSectionContent replaces the content of one section within the stored
// JSON array, preserving every other section field.
func spliceSectionContent(sectionsJSON string, index int, value any) (string, error) {
	sections, err := decodeSections(sectionsJSON)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(sections) {
		return "", fmt.Errorf("section index %d out of range (%d sections)", index, len(sections))
	}
	sections[index]["content"] = value
	b, err := json.Marshal(sections)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
