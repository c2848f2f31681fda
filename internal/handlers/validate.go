package handlers

import (
	"errors"
	"fmt"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
	"github.com/ravicomex/ncm-dashboard/internal/ncm"
)

// os corpos chegam aqui já com as chaves normalizadas para nomes lógicos

func validateCreate(body recordBody) error {
	if len(body) == 0 {
		return errors.New("corpo vazio")
	}
	raw, ok := body[fields.FieldNCM]
	if !ok || ncm.Clean(fmt.Sprintf("%v", raw)) == "" {
		return errors.New("ncm é obrigatório")
	}
	return nil
}

func validateUpdate(body recordBody) error {
	if len(body) == 0 {
		return errors.New("corpo vazio")
	}
	// NCM pode ser alterado mas não esvaziado
	if raw, ok := body[fields.FieldNCM]; ok {
		if ncm.Clean(fmt.Sprintf("%v", raw)) == "" {
			return errors.New("ncm não pode ficar vazio")
		}
	}
	return nil
}
