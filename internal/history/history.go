// Package history persists generated images per user.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IST is the fixed civil offset every createdAt is reported in.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// TimeLayout is ISO-8601 with a numeric offset, e.g. 2025-01-02T15:04:05.123+05:30.
const TimeLayout = "2006-01-02T15:04:05.999999-07:00"

var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrMissingUserEmail = errors.New("userEmail is required")
	ErrMissingID        = errors.New("image history id is required")
	ErrInvalidID        = errors.New("invalid image history id")
	ErrInvalidImageType = errors.New("invalid imageType, use 'url' or 'base64'")
	ErrInvalidImage     = errors.New("invalid image")
	ErrNotFound         = errors.New("image history not found")
)

// Record is one stored history entry. Image holds bare base64 without a
// data-URI prefix.
type Record struct {
	ID        string
	UserEmail string
	ToolName  string
	Prompt    *string
	Image     string
	CreatedAt time.Time
}

// Store is the persistence backend for history records.
type Store interface {
	// Insert stores rec and returns its generated id.
	Insert(ctx context.Context, rec Record) (string, error)
	// ListByUser returns the records of email, most recent first.
	ListByUser(ctx context.Context, email string) ([]Record, error)
	// Delete removes the record with id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// IsInputError reports whether err was caused by the caller's request.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrMissingFields, ErrMissingUserEmail, ErrMissingID,
		ErrInvalidID, ErrInvalidImageType, ErrInvalidImage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ParseID validates a 24-character hex record id.
func ParseID(id string) (primitive.ObjectID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return primitive.NilObjectID, ErrMissingID
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}
