package admin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ravicomex/ncm-dashboard/internal/models"
	"github.com/ravicomex/ncm-dashboard/internal/repository"
	"github.com/ravicomex/ncm-dashboard/internal/spreadsheet"
)

// ImportFile carrega uma planilha do disco direto para o banco, sem
// passar pela API. Usado como job administrativo para a carga inicial.
func ImportFile(ctx context.Context, repo *repository.RecordRepository, path string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ler arquivo: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat arquivo: %w", err)
	}

	sheet, err := spreadsheet.Parse(filepath.Base(path), data)
	if err != nil {
		return fmt.Errorf("interpretar planilha: %w", err)
	}
	if len(sheet.MissingFields) > 0 {
		log.Warn("import_missing_fields", "fields", sheet.MissingFields)
	}

	ictx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	n, err := repo.InsertRows(ictx, sheet.Rows, filepath.Base(path), info.Size())
	if err != nil {
		return fmt.Errorf("gravar linhas: %w", err)
	}

	if _, err := repo.SaveImport(ictx, &models.Import{
		TotalRows: n,
		Headers:   sheet.Headers,
		SheetName: sheet.SheetName,
		FileName:  filepath.Base(path),
		FileSize:  info.Size(),
	}); err != nil {
		return fmt.Errorf("registrar histórico: %w", err)
	}

	log.Info("import_done", "file", path, "rows", n, "sheet", sheet.SheetName)
	return nil
}
