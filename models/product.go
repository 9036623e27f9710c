package models

import (
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID        uuid.UUID  `bson:"_id" json:"id"`
	Name      string     `bson:"name" json:"name"`
	Price     int64      `bson:"price" json:"price"`
	Stock     int        `bson:"stock" json:"stock"`
	InStock   bool       `bson:"in_stock" json:"in_stock"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"-"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}
