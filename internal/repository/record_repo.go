package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
	"github.com/ravicomex/ncm-dashboard/internal/models"
)

var ErrNotFound = errors.New("registro não encontrado")

// RecordRepository é a fronteira com o Mongo. Para fora dele os campos
// têm nomes lógicos (com $ e /); para dentro, nomes de armazenamento
// saneados. A tradução acontece aqui, em cada leitura e escrita.
type RecordRepository struct {
	coll    *mongo.Collection
	imports *mongo.Collection
}

func NewRecordRepository(db *mongo.Database) *RecordRepository {
	return &RecordRepository{
		coll:    db.Collection("registros"),
		imports: db.Collection("imports"),
	}
}

func (r *RecordRepository) EnsureIndexes(ctx context.Context) error {
	idx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uploaded_at", Value: -1}},
			Options: options.Index().SetName("idx_uploaded_at"),
		},
		{
			Keys:    bson.D{{Key: fields.ToStorage(fields.FieldNCM), Value: 1}},
			Options: options.Index().SetName("idx_ncm"),
		},
	}
	_, err := r.coll.Indexes().CreateMany(ctx, idx)
	return err
}

// Insert grava um registro avulso (criação manual). Os campos chegam
// com nomes lógicos e o carimbo uploaded_at é de agora.
func (r *RecordRepository) Insert(ctx context.Context, doc map[string]any) (string, error) {
	rec := models.Record{
		Fields:     fields.NormalizeDoc(doc),
		UploadedAt: time.Now(),
	}
	res, err := r.coll.InsertOne(ctx, rec)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.New("insert não devolveu ObjectID")
	}
	return oid.Hex(), nil
}

// InsertRows grava as linhas de uma planilha importada, todas com o
// mesmo carimbo e metadados do arquivo de origem.
func (r *RecordRepository) InsertRows(ctx context.Context, rows []map[string]any, fileName string, fileSize int64) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now()
	docs := make([]interface{}, len(rows))
	for i, row := range rows {
		docs[i] = models.Record{
			Fields:     fields.NormalizeDoc(row),
			UploadedAt: now,
			FileName:   fileName,
			FileSize:   fileSize,
		}
	}
	res, err := r.coll.InsertMany(ctx, docs)
	if err != nil {
		if res != nil {
			return len(res.InsertedIDs), err
		}
		return 0, err
	}
	return len(res.InsertedIDs), nil
}

// List devolve os registros mais recentes primeiro, já com os campos
// de volta aos nomes lógicos.
func (r *RecordRepository) List(ctx context.Context, limit int64) ([]models.Record, error) {
	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	list := []models.Record{}
	for cur.Next(ctx) {
		var rec models.Record
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		rec.Fields = fields.DenormalizeDoc(rec.Fields)
		list = append(list, rec)
	}
	return list, cur.Err()
}

// Update aplica um $set dos campos recebidos e carimba updated_at.
// Zero documentos casados significa que o id não existe mais.
func (r *RecordRepository) Update(ctx context.Context, id string, doc map[string]any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields.NormalizeDoc(doc) {
		set[k] = v
	}

	res, err := r.coll.UpdateByID(ctx, oid, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveImport registra um resumo da importação no histórico.
func (r *RecordRepository) SaveImport(ctx context.Context, imp *models.Import) (string, error) {
	imp.UploadedAt = time.Now()
	res, err := r.imports.InsertOne(ctx, imp)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.New("insert não devolveu ObjectID")
	}
	return oid.Hex(), nil
}

func (r *RecordRepository) ImportHistory(ctx context.Context, limit int64) ([]models.Import, error) {
	opts := options.Find().
		SetLimit(limit).
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cur, err := r.imports.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	list := []models.Import{}
	for cur.Next(ctx) {
		var imp models.Import
		if err := cur.Decode(&imp); err != nil {
			return nil, err
		}
		list = append(list, imp)
	}
	return list, cur.Err()
}
