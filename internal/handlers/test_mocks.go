package handlers

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/ravicomex/ncm-dashboard/internal/models"
)

type repoMock struct {
	ListFn          func(ctx context.Context, limit int64) ([]models.Record, error)
	InsertFn        func(ctx context.Context, doc map[string]any) (string, error)
	InsertRowsFn    func(ctx context.Context, rows []map[string]any, fileName string, fileSize int64) (int, error)
	UpdateFn        func(ctx context.Context, id string, doc map[string]any) error
	DeleteFn        func(ctx context.Context, id string) error
	SaveImportFn    func(ctx context.Context, imp *models.Import) (string, error)
	ImportHistoryFn func(ctx context.Context, limit int64) ([]models.Import, error)
}

func (m *repoMock) List(ctx context.Context, limit int64) ([]models.Record, error) {
	if m.ListFn == nil {
		return nil, errors.New("ListFn not set")
	}
	return m.ListFn(ctx, limit)
}
func (m *repoMock) Insert(ctx context.Context, doc map[string]any) (string, error) {
	if m.InsertFn == nil {
		return "", errors.New("InsertFn not set")
	}
	return m.InsertFn(ctx, doc)
}
func (m *repoMock) InsertRows(ctx context.Context, rows []map[string]any, fileName string, fileSize int64) (int, error) {
	if m.InsertRowsFn == nil {
		return 0, errors.New("InsertRowsFn not set")
	}
	return m.InsertRowsFn(ctx, rows, fileName, fileSize)
}
func (m *repoMock) Update(ctx context.Context, id string, doc map[string]any) error {
	if m.UpdateFn == nil {
		return errors.New("UpdateFn not set")
	}
	return m.UpdateFn(ctx, id, doc)
}
func (m *repoMock) Delete(ctx context.Context, id string) error {
	if m.DeleteFn == nil {
		return errors.New("DeleteFn not set")
	}
	return m.DeleteFn(ctx, id)
}
func (m *repoMock) SaveImport(ctx context.Context, imp *models.Import) (string, error) {
	if m.SaveImportFn == nil {
		return "", errors.New("SaveImportFn not set")
	}
	return m.SaveImportFn(ctx, imp)
}
func (m *repoMock) ImportHistory(ctx context.Context, limit int64) ([]models.Import, error) {
	if m.ImportHistoryFn == nil {
		return nil, errors.New("ImportHistoryFn not set")
	}
	return m.ImportHistoryFn(ctx, limit)
}

type pubMock struct {
	PublishFn func(ctx context.Context, body string, headers amqp091.Table) error
	CloseFn   func() error
}

func (p *pubMock) Publish(ctx context.Context, body string, headers amqp091.Table) error {
	if p.PublishFn == nil {
		return nil
	}
	return p.PublishFn(ctx, body, headers)
}
func (p *pubMock) Close() error {
	if p.CloseFn == nil {
		return nil
	}
	return p.CloseFn()
}
