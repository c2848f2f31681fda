package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record é uma linha da planilha persistida como documento.
// Os campos de negócio ficam no mapa inline, com nomes já normalizados
// para o storage (sem $, /, etc). O _id é gerado pelo banco.
type Record struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Fields     map[string]any     `bson:",inline" json:"fields"`
	UploadedAt time.Time          `bson:"uploaded_at" json:"uploaded_at"`
	UpdatedAt  time.Time          `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
	FileName   string             `bson:"file_name,omitempty" json:"file_name,omitempty"`
	FileSize   int64              `bson:"file_size,omitempty" json:"file_size,omitempty"`
}

// Import registra um lote de upload. Append-only: nunca é editado ou
// excluído pela aplicação.
type Import struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TotalRows  int                `bson:"total_rows" json:"total_rows"`
	Headers    []string           `bson:"headers" json:"headers"`
	SheetName  string             `bson:"sheet_name" json:"sheet_name"`
	FileName   string             `bson:"file_name,omitempty" json:"file_name,omitempty"`
	FileSize   int64              `bson:"file_size,omitempty" json:"file_size,omitempty"`
	UploadedAt time.Time          `bson:"uploaded_at" json:"uploaded_at"`
}
